package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/snowmerak/modhost/lib/mod"
)

// fileRoot decodes all top-level blocks of a config file.
type fileRoot struct {
	App    *appBlock    `hcl:"app,block"`
	Server *serverBlock `hcl:"server,block"`
	Log    *logBlock    `hcl:"log,block"`
	Mods   []*modBlock  `hcl:"mod,block"`
	Remain hcl.Body     `hcl:",remain"`
}

type appBlock struct {
	ID   *string `hcl:"id,optional"`
	Name *string `hcl:"name,optional"`
}

type serverBlock struct {
	Port          *int    `hcl:"port,optional"`
	AllowExternal *bool   `hcl:"allow_external,optional"`
	Secret        *string `hcl:"secret,optional"`
	SecretKey     *string `hcl:"secret_key,optional"`
	Log           *bool   `hcl:"log,optional"`
	DiscoveryDir  *string `hcl:"discovery_dir,optional"`
}

type logBlock struct {
	Level  *string `hcl:"level,optional"`
	Format *string `hcl:"format,optional"`
}

type modBlock struct {
	ID       string    `hcl:"id,label"`
	Locator  string    `hcl:"locator"`
	Enabled  *bool     `hcl:"enabled,optional"`
	Metadata cty.Value `hcl:"metadata,optional"`
}

func decodeFile(path string, cfg *Config) error {
	parser := hclparse.NewParser()

	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(file.Body, nil, &root)
	if diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}

	if b := root.App; b != nil {
		set(&cfg.App.ID, b.ID)
		set(&cfg.App.Name, b.Name)
	}
	if b := root.Server; b != nil {
		set(&cfg.Server.Port, b.Port)
		set(&cfg.Server.AllowExternal, b.AllowExternal)
		set(&cfg.Server.Secret, b.Secret)
		set(&cfg.Server.SecretKey, b.SecretKey)
		set(&cfg.Server.LogRequests, b.Log)
		set(&cfg.Server.DiscoveryDir, b.DiscoveryDir)
	}
	if b := root.Log; b != nil {
		set(&cfg.Log.Level, b.Level)
		set(&cfg.Log.Format, b.Format)
	}

	for _, b := range root.Mods {
		m, err := translateMod(b)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		cfg.Mods = append(cfg.Mods, m)
	}
	return nil
}

func translateMod(b *modBlock) (Mod, error) {
	loc, err := mod.ParseLocator(b.Locator)
	if err != nil {
		return Mod{}, fmt.Errorf("mod %q: %w", b.ID, err)
	}

	m := Mod{ID: b.ID, Locator: loc, Enabled: true}
	set(&m.Enabled, b.Enabled)

	meta, err := metadataMap(b.Metadata)
	if err != nil {
		return Mod{}, fmt.Errorf("mod %q: metadata: %w", b.ID, err)
	}
	m.Metadata = meta
	return m, nil
}

// metadataMap flattens an object or map of primitives into strings.
func metadataMap(v cty.Value) (map[string]string, error) {
	if v.IsNull() {
		return nil, nil
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("expected an object, got %s", ty.FriendlyName())
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	out := make(map[string]string, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		k, ev := it.Element()
		s, err := convert.Convert(ev, cty.String)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k.AsString(), err)
		}
		if s.IsNull() {
			continue
		}
		out[k.AsString()] = s.AsString()
	}
	return out, nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
