// Package manifest loads and validates the app manifest that drives
// provisioning.
//
// Manifests may be written in CUE, JSON or YAML. All three are compiled to
// a CUE value, unified with the #Manifest schema and decoded into Manifest.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/onepush/onepush/pkg/engine"
)

// Loader parses manifests.
type Loader struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewLoader compiles the manifest schema.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(schema, cue.Filename("manifest.cue"))
	if err := val.Err(); err != nil {
		return nil, engine.NewInternalError("failed to compile manifest schema", err)
	}
	return &Loader{
		ctx:    ctx,
		schema: val.LookupPath(cue.ParsePath("#Manifest")),
	}, nil
}

// Load reads a manifest file. The format is chosen by extension: .cue,
// .json, .yaml or .yml.
func Load(file string) (*Manifest, error) {
	l, err := NewLoader()
	if err != nil {
		return nil, err
	}
	return l.Load(file)
}

// Load reads a manifest file.
func (l *Loader) Load(file string) (*Manifest, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read manifest %s", file), err).
			WithCode(engine.ErrCodeNoConfig)
	}
	return l.Parse(file, data)
}

// Parse decodes data, using the extension of name to pick the format.
func (l *Loader) Parse(name string, data []byte) (*Manifest, error) {
	val, err := l.compile(name, data)
	if err != nil {
		return nil, err
	}

	unified := l.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, schemaError(name, err)
	}

	var m Manifest
	if err := unified.Decode(&m); err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to decode manifest %s", name), err).
			WithCode(engine.ErrCodeValidation)
	}
	return &m, nil
}

func (l *Loader) compile(name string, data []byte) (cue.Value, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		var doc map[string]interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return cue.Value{}, engine.NewConfigurationError(fmt.Sprintf("invalid YAML in %s", name), err).
				WithCode(engine.ErrCodeValidation)
		}
		if doc == nil {
			doc = map[string]interface{}{}
		}
		val := l.ctx.Encode(doc)
		if err := val.Err(); err != nil {
			return cue.Value{}, schemaError(name, err)
		}
		return val, nil
	case ".json", ".cue":
		val := l.ctx.CompileBytes(data, cue.Filename(name))
		if err := val.Err(); err != nil {
			return cue.Value{}, schemaError(name, err)
		}
		return val, nil
	default:
		return cue.Value{}, engine.NewConfigurationError(
			fmt.Sprintf("unsupported manifest format %q (use .cue, .json or .yaml)", filepath.Ext(name)), nil,
		).WithCode(engine.ErrCodeValidation)
	}
}

func schemaError(name string, err error) error {
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		msgs = append(msgs, e.Error())
	}
	return engine.NewConfigurationError(
		fmt.Sprintf("invalid manifest %s:\n  %s", name, strings.Join(msgs, "\n  ")), err,
	).WithCode(engine.ErrCodeValidation).WithDetail("violations", msgs)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the whole manifest and reports every violation at once.
func Validate(m *Manifest) error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return engine.NewInternalError("manifest validation failed", err)
	}

	var msgs []string
	for _, fe := range fieldErrs {
		msgs = append(msgs, violation(fe))
	}
	return engine.NewConfigurationError(strings.Join(msgs, "\n"), nil).
		WithCode(engine.ErrCodeValidation).
		WithDetail("violations", msgs)
}

func violation(fe validator.FieldError) string {
	switch fe.StructNamespace() {
	case "Manifest.About":
		return "There must be an 'about' section in the manifest"
	case "Manifest.About.ID":
		return "The 'id' option must be set in the 'about' section"
	case "Manifest.About.Type":
		return "The 'type' option must be set in the 'about' section"
	case "Manifest.About.DomainNames":
		return "The 'domain_names' option must be set in the 'about' section"
	case "Manifest.Setup.PassengerEnterpriseDownloadToken":
		return "If you set passenger_enterprise to true, then you must also " +
			"set passenger_enterprise_download_token"
	}
	return fmt.Sprintf("invalid manifest field %s (%s)", fe.Namespace(), fe.Tag())
}
