package manifest

import "path"

// DefaultAppRoot is the parent of every default app directory.
const DefaultAppRoot = "/var/www"

// Context is a validated manifest with defaults applied. Provisioning tasks
// read only from a Context.
type Context struct {
	Manifest
}

// NewContext validates m and fills in defaults: the app user is named
// after the app id, the app directory lives under DefaultAppRoot and Ruby
// apps get their Ruby from RVM. m itself is not modified.
func NewContext(m *Manifest) (*Context, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}

	c := &Context{Manifest: *m}
	about := *m.About
	c.About = &about

	if c.Setup.User == "" {
		c.Setup.User = c.About.ID
	}
	if c.Setup.AppDir == "" {
		c.Setup.AppDir = path.Join(DefaultAppRoot, c.About.ID)
	}
	if c.Setup.RubyManager == "" && c.About.Type == TypeRuby {
		c.Setup.RubyManager = RubyManagerRVM
	}
	return c, nil
}

// ID returns the app id.
func (c *Context) ID() string { return c.About.ID }

// AppDir returns the app directory.
func (c *Context) AppDir() string { return c.Setup.AppDir }

// User returns the app user.
func (c *Context) User() string { return c.Setup.User }
