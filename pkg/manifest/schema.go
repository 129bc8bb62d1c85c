package manifest

// schema constrains the shape and types of a manifest. Required fields are
// left to Validate so every missing one is reported with its own message.
const schema = `
#Manifest: {
	about?: {
		id?:           string
		type?:         string
		domain_names?: string
		...
	}
	setup?: {
		user?:                                string
		app_dir?:                             =~"^/"
		ruby_version?:                        string
		ruby_manager?:                        "rvm" | "rbenv" | "chruby" | "none"
		install_passenger?:                   bool
		passenger_enterprise?:                bool
		passenger_enterprise_download_token?: string
		...
	}
	memcached?: bool
	redis?:     bool
	...
}
`
