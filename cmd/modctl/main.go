// Command modctl drives a running modhost.
//
//	modctl -pid 1234 list
//	modctl -addr 10.0.0.5:4100 -secret s3cret unload mods.alpha
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/snowmerak/modhost/lib/logging"
	"github.com/snowmerak/modhost/lib/remote"
)

func main() {
	var (
		pid          = flag.Int("pid", 0, "Process id of the host (uses the published endpoint)")
		addr         = flag.String("addr", "", "host:port of the host, instead of -pid")
		secretFlag   = flag.String("secret", "", "Pre-shared secret for non-loopback hosts")
		timeout      = flag.Duration("timeout", remote.DefaultTimeout, "Timeout of each request")
		discoveryDir = flag.String("discovery-dir", "", "Directory holding published endpoints (default: system temp dir)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: modctl (-pid N | -addr host:port) [flags] list|load ID|unload ID|suspend ID|resume ID\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *pid == 0 && *addr == "" {
		fmt.Fprintf(os.Stderr, "Error: -pid or -addr is required\n")
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	opts := []remote.Option{
		remote.WithTimeout(*timeout),
		remote.WithSecret(*secretFlag),
		remote.WithDiscoveryDir(*discoveryDir),
		remote.WithLogger(logging.Discard()),
	}

	ctx := context.Background()
	client, err := dial(ctx, *pid, *addr, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to host: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := execute(ctx, os.Stdout, client, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		client.Close()
		os.Exit(1)
	}
}

func dial(ctx context.Context, pid int, addr string, opts []remote.Option) (*remote.Client, error) {
	if addr != "" {
		return remote.Dial(ctx, addr, opts...)
	}
	return remote.Connect(ctx, pid, opts...)
}

func execute(ctx context.Context, out io.Writer, client *remote.Client, args []string) error {
	cmd := args[0]
	if cmd == "list" {
		return list(ctx, out, client)
	}

	if len(args) != 2 {
		return fmt.Errorf("%s requires exactly one mod id", cmd)
	}
	id := args[1]

	var call func(context.Context, string, ...remote.CallOption) error
	switch cmd {
	case "load":
		call = client.Load
	case "unload":
		call = client.Unload
	case "suspend":
		call = client.Suspend
	case "resume":
		call = client.Resume
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	start := time.Now()
	if err := call(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s: ok (%s)\n", cmd, id, time.Since(start).Round(time.Millisecond))
	return nil
}

func list(ctx context.Context, out io.Writer, client *remote.Client) error {
	mods, err := client.ListLoaded(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tSUSPEND\tUNLOAD")
	for _, m := range mods {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", m.ID, m.State, m.CanSuspend, m.CanUnload)
	}
	return w.Flush()
}
