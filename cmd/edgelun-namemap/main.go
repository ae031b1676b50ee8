// Package main is the entry point for edgelun-namemap, the bucket name-map
// export/import tool.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/edgelun/edgelun/internal/backend"
	"github.com/edgelun/edgelun/internal/config"
	"github.com/edgelun/edgelun/internal/namemap"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: edgelun-namemap <export|import> [flags]")
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "export":
		os.Exit(runExport(os.Args[2:]))
	case "import":
		os.Exit(runImport(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\nUsage: edgelun-namemap <export|import> [flags]\n", command)
		os.Exit(1)
	}
}

// loadStore builds a management API client from config and loads the
// bucket's name map.
func loadStore(configPath string) (*namemap.Store, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	client := backend.NewRESTClient(backend.RESTOptions{
		Protocol: cfg.Backend.Protocol,
		Host:     cfg.Backend.Host,
		Port:     cfg.Backend.Port,
		Username: cfg.Backend.Username,
		Password: cfg.Backend.Password,
		Timeout:  time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		RetryMax: cfg.Backend.RetryMax,
	})
	cluster, tenant, bucket, err := config.SplitBucketPath(cfg.Backend.Bucket)
	if err != nil {
		return nil, nil, err
	}
	bucketURL := "clusters/" + cluster + "/tenants/" + tenant + "/buckets/" + bucket

	store := namemap.NewStore(client, bucketURL)
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Backend.TimeoutSeconds)*time.Second)
	defer cancel()
	if err := store.Load(ctx); err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Config file path")
	output := fs.String("output", "-", "Output file path (- for stdout)")
	fs.Parse(args)

	store, cfg, err := loadStore(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	data, err := json.MarshalIndent(store.Entries(), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	data = append(data, '\n')

	if *output == "-" {
		os.Stdout.Write(data)
	} else {
		if err := os.WriteFile(*output, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	fmt.Fprintf(os.Stderr, "Exported %d entries from %s (revision %d)\n",
		store.Len(), cfg.Backend.Bucket, store.Revision())
	return 0
}

func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Config file path")
	input := fs.String("input", "-", "Input file path (- for stdin)")
	force := fs.Bool("force", false, "Overwrite a non-empty name map")
	fs.Parse(args)

	var data []byte
	var err error
	if *input == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(*input)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	entries, err := parseEntries(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	store, cfg, err := loadStore(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if store.Len() > 0 && !*force {
		fmt.Fprintf(os.Stderr, "Error: bucket %s already has %d mapped volumes; use -force to overwrite\n",
			cfg.Backend.Bucket, store.Len())
		return 1
	}

	for name := range store.Entries() {
		store.Remove(name)
	}
	for name, lun := range entries {
		store.Put(name, lun)
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Backend.TimeoutSeconds)*time.Second)
	defer cancel()
	if err := store.Persist(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "Imported %d entries into %s (revision %d)\n",
		len(entries), cfg.Backend.Bucket, store.Revision())
	return 0
}

// parseEntries decodes and validates an exported name map: LUN numbers must
// lie in [1,255] and be unique.
func parseEntries(data []byte) (map[string]int, error) {
	var entries map[string]int
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing name map: %w", err)
	}
	seen := make(map[int]string, len(entries))
	for name, lun := range entries {
		if lun < namemap.MinLUN || lun > namemap.MaxLUN {
			return nil, fmt.Errorf("entry %q has LUN number %d outside [%d,%d]",
				name, lun, namemap.MinLUN, namemap.MaxLUN)
		}
		if other, dup := seen[lun]; dup {
			return nil, fmt.Errorf("entries %q and %q share LUN number %d", other, name, lun)
		}
		seen[lun] = name
	}
	return entries, nil
}

