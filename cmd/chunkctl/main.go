package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"voxelflow.ai/internal/chunk"
	"voxelflow.ai/internal/persistence/chunkstore"
	"voxelflow.ai/internal/persistence/journal"
	"voxelflow.ai/internal/tuning"
	"voxelflow.ai/internal/voxel"
)

func main() {
	app := &cli.App{
		Name:        "chunkctl",
		Description: "inspect saved chunks, lifecycle journals and tuning files",
		Commands: []*cli.Command{
			{
				Name:   "inspect",
				Usage:  "list stored chunks with version and digest",
				Action: commandInspect,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "backend", Usage: "dir, sqlite or leveldb", Value: chunkstore.BackendDir},
					&cli.PathFlag{Name: "path", Usage: "store location", Required: true},
					&cli.StringFlag{Name: "addr", Usage: "only this chunk, as x,y,z"},
				},
			},
			{
				Name:   "events",
				Usage:  "print journal events",
				Action: commandEvents,
				Flags: []cli.Flag{
					&cli.PathFlag{Name: "dir", Usage: "journal directory", Required: true},
					&cli.StringFlag{Name: "addr", Usage: "only events for this chunk, as x,y,z"},
					&cli.StringFlag{Name: "kind", Usage: "only events of this kind"},
				},
			},
			{
				Name:   "tuning",
				Usage:  "validate a tuning file and print the effective values",
				Action: commandTuning,
				Flags: []cli.Flag{
					&cli.PathFlag{Name: "config", Usage: "path to tuning.yaml or tuning.toml", Value: "configs/tuning.yaml"},
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func commandInspect(c *cli.Context) error {
	store, err := chunkstore.Open(c.String("backend"), c.Path("path"))
	if err != nil {
		return err
	}
	defer store.Close()

	var addrs []chunk.Address
	if s := c.String("addr"); s != "" {
		a, err := parseAddr(s)
		if err != nil {
			return err
		}
		addrs = []chunk.Address{a}
	} else {
		l, ok := store.(chunkstore.Lister)
		if !ok {
			return fmt.Errorf("backend %s cannot list", c.String("backend"))
		}
		if addrs, err = l.List(c.Context); err != nil {
			return err
		}
	}
	return inspect(c.Context, c.App.Writer, store, addrs)
}

func inspect(ctx context.Context, w io.Writer, store chunkstore.Store, addrs []chunk.Address) error {
	for _, a := range addrs {
		b, ok, err := store.Load(ctx, a)
		if err != nil {
			return fmt.Errorf("load %s: %w", a, err)
		}
		if !ok {
			fmt.Fprintf(w, "%s missing\n", a)
			continue
		}
		d, err := voxel.Decode(b)
		if err != nil {
			fmt.Fprintf(w, "%s corrupt err=%v\n", a, err)
			continue
		}
		solid := 0
		for _, id := range d.Blocks {
			if id != 0 {
				solid++
			}
		}
		sum := d.Digest()
		fmt.Fprintf(w, "%s version=%d size=%d solid=%d bytes=%d digest=%s\n", a, d.Version, d.Size, solid, len(b), hex.EncodeToString(sum[:8]))
	}
	return nil
}

func commandEvents(c *cli.Context) error {
	files, err := journal.Files(c.Path("dir"))
	if err != nil {
		return err
	}
	want := ""
	if s := c.String("addr"); s != "" {
		a, err := parseAddr(s)
		if err != nil {
			return err
		}
		want = a.String()
	}
	kind := c.String("kind")
	for _, f := range files {
		err := journal.ReadFile(f, func(ev journal.Event) error {
			if (want != "" && ev.Addr != want) || (kind != "" && ev.Kind != kind) {
				return nil
			}
			_, err := fmt.Fprintln(c.App.Writer, formatEvent(ev))
			return err
		})
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}

func formatEvent(ev journal.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tick=%d kind=%s addr=%s", ev.Tick, ev.Kind, ev.Addr)
	if ev.From != "" || ev.To != "" {
		fmt.Fprintf(&b, " %s->%s", ev.From, ev.To)
	}
	if ev.Version != 0 {
		fmt.Fprintf(&b, " version=%d", ev.Version)
	}
	if ev.Attempt != 0 {
		fmt.Fprintf(&b, " attempt=%d", ev.Attempt)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, " reason=%q", ev.Reason)
	}
	return b.String()
}

func commandTuning(c *cli.Context) error {
	t, err := tuning.Load(c.Path("config"))
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(c.App.Writer)
	defer enc.Close()
	return enc.Encode(t)
}

func parseAddr(s string) (chunk.Address, error) {
	f := strings.Split(s, ",")
	if len(f) != 3 {
		return chunk.Address{}, fmt.Errorf("address %q: want x,y,z", s)
	}
	var v [3]int
	for i := range f {
		n, err := strconv.Atoi(strings.TrimSpace(f[i]))
		if err != nil {
			return chunk.Address{}, fmt.Errorf("address %q: %w", s, err)
		}
		v[i] = n
	}
	return chunk.Address{X: v[0], Y: v[1], Z: v[2]}, nil
}
