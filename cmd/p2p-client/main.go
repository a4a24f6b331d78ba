package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/timskillet/p2pshare/internal/catalog"
	"github.com/timskillet/p2pshare/internal/client"
	"github.com/timskillet/p2pshare/internal/integrity"
	"github.com/timskillet/p2pshare/internal/logging"
)

type cli struct {
	LogLevel  string `help:"Log level (debug, info, warn, error)" default:"warn" env:"LOG_LEVEL"`
	LogFormat string `help:"Log format (json, console)" default:"console" env:"LOG_FORMAT"`

	Download downloadCmd `cmd:"" help:"Download a file from a peer"`
	Probe    probeCmd    `cmd:"" help:"Find which candidate port a peer listens on"`
	List     listCmd     `cmd:"" help:"List the files a directory would share"`
	Hash     hashCmd     `cmd:"" help:"Print the content digest of a file"`
}

type runContext struct {
	ctx context.Context
	log *zap.Logger
}

type downloadCmd struct {
	Host   string `required:"" help:"Peer host, host:port or URL"`
	Output string `short:"o" type:"path" help:"Output path (default: file name in the current directory)"`
	File   string `arg:"" help:"File name as shared by the peer"`
}

func (c *downloadCmd) Run(rc *runContext) error {
	output := c.Output
	if output == "" {
		output = filepath.Base(c.File)
	}

	start := time.Now()
	result, err := client.New(rc.log).DownloadFromPeer(rc.ctx, c.Host, c.File, output)
	if err != nil {
		return fmt.Errorf("download %s from %s: %w", c.File, result.SourceHost, err)
	}
	fmt.Printf("Downloaded %s from %s (%d bytes in %v) to %s\n",
		result.Filename, result.SourceHost, result.Bytes, time.Since(start).Round(time.Millisecond), output)
	return nil
}

type probeCmd struct {
	Host string `required:"" help:"Peer host, host:port or URL"`
}

func (c *probeCmd) Run(rc *runContext) error {
	conn, port, err := client.New(rc.log).Discover(rc.ctx, c.Host)
	if err != nil {
		return err
	}
	conn.Close()
	fmt.Printf("%s is listening on port %d\n", client.NormalizeHost(c.Host), port)
	return nil
}

type listCmd struct {
	Dir  string `arg:"" type:"existingdir" help:"Directory to scan"`
	JSON bool   `help:"Print records as JSON"`
}

func (c *listCmd) Run(rc *runContext) error {
	records := catalog.New(0, rc.log).List(c.Dir)

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED\tHASH")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.DisplayName, r.SizeBytes, r.ModifiedAt.Format(time.RFC3339), r.ContentDigest)
	}
	return tw.Flush()
}

type hashCmd struct {
	File string `arg:"" type:"existingfile" help:"File to hash"`
}

func (c *hashCmd) Run(rc *runContext) error {
	digest, err := integrity.FileDigest(c.File)
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s\n", digest, c.File)
	return nil
}

func main() {
	var params cli
	kctx := kong.Parse(&params,
		kong.Name("p2p-client"),
		kong.Description("Command line client for the p2p chunk protocol."),
		kong.UsageOnError(),
	)

	if err := logging.Init(logging.Config{Level: params.LogLevel, Format: params.LogFormat, OutputPath: "stderr"}); err != nil {
		kctx.FatalIfErrorf(err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := kctx.Run(&runContext{ctx: ctx, log: logging.L()})
	stop()
	kctx.FatalIfErrorf(err)
}
