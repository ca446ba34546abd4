package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/snowmerak/modhost/lib/logging"
	"github.com/snowmerak/modhost/lib/mod"
	"github.com/snowmerak/modhost/lib/mod/builtin"
	"github.com/snowmerak/modhost/lib/registry"
	"github.com/snowmerak/modhost/lib/remote"
)

type pausable struct{ mod.Base }

func (pausable) Start(mod.LoaderAPI) error { return nil }
func (pausable) CanSuspend() bool          { return true }

func TestExecute(t *testing.T) {
	catalog := builtin.NewCatalog()
	catalog.RegisterMod("mods.gamma", func() mod.Mod { return &builtin.Static{} })
	catalog.RegisterMod("mods.delta", func() mod.Mod { return &pausable{} })

	regOpts := registry.DefaultOptions()
	regOpts.Logger = logging.Discard()
	regOpts.Loaders[builtin.Kind] = catalog
	regOpts.Reclaim = func() {}
	reg := registry.New(regOpts)

	srvOpts := remote.DefaultServerOptions()
	srvOpts.Discovery = false
	srvOpts.Logger = logging.Discard()
	srvOpts.Resolver = remote.ResolverFunc(func(id string) (mod.Locator, error) {
		return mod.Locator{Kind: builtin.Kind, Path: id}, nil
	})
	srv, err := remote.NewServer(reg, srvOpts)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer srv.Close(ctx)

	client, err := dial(ctx, 0, srv.Addr().String(), []remote.Option{remote.WithLogger(logging.Discard())})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	if err := execute(ctx, io.Discard, client, []string{"load", "mods.gamma"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := execute(ctx, io.Discard, client, []string{"list"}); err != nil {
		t.Errorf("list failed: %v", err)
	}
	if err := execute(ctx, io.Discard, client, []string{"suspend", "mods.gamma"}); !errors.Is(err, mod.ErrCannotSuspend) {
		t.Errorf("Expected ErrCannotSuspend, got %v", err)
	}
	if err := execute(ctx, io.Discard, client, []string{"unload"}); err == nil {
		t.Error("Expected an error for a missing id")
	}
	if err := execute(ctx, io.Discard, client, []string{"restart", "mods.gamma"}); err == nil {
		t.Error("Expected an error for an unknown command")
	}
	if err := execute(ctx, io.Discard, client, []string{"unload", "mods.gamma"}); err != nil {
		t.Errorf("unload failed: %v", err)
	}

	// A suspended mod still supports suspension.
	if err := execute(ctx, io.Discard, client, []string{"load", "mods.delta"}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := execute(ctx, io.Discard, client, []string{"suspend", "mods.delta"}); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}
	var out bytes.Buffer
	if err := execute(ctx, &out, client, []string{"list"}); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var row []string
	for _, line := range strings.Split(out.String(), "\n") {
		if fields := strings.Fields(line); len(fields) == 4 && fields[0] == "mods.delta" {
			row = fields
		}
	}
	if row == nil {
		t.Fatalf("Expected a row for mods.delta, got:\n%s", out.String())
	}
	if row[1] != mod.StateSuspended.String() || row[2] != "true" || row[3] != "true" {
		t.Errorf("Expected [mods.delta %s true true], got %v", mod.StateSuspended, row)
	}
}
