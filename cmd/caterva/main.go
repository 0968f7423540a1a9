// Package main is a command-line tool that packs raw row-major binary files
// into caterva arrays and reads them back.
//
//	caterva pack -shape 100,100 -chunks 10,10 -dtype '<f8' in.raw store/dir arrays/a
//	caterva unpack store/dir arrays/a out.raw
//	caterva slice -start 0,0 -stop 50,50 -step 2,2 store/dir arrays/a out.raw
//	caterva info store/dir arrays/a
//	caterva list store/dir
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	caterva "github.com/qri-io/caterva-go"
)

const usage = `Usage: caterva <command> [flags] <args>

Commands:
  pack    [-config c.yaml] -shape S -chunks C [-dtype T] <in.raw> <dir> <path>
  unpack  [-config c.yaml] <dir> <path> <out.raw>
  slice   [-config c.yaml] -start S -stop S [-step S] <dir> <path> <out.raw>
  info    <dir> <path>
  list    <dir>
`

var errUsage = errors.New("bad usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		log.Fatalf("caterva: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "pack":
		return pack(args, stdout)
	case "unpack":
		return unpack(args)
	case "slice":
		return slice(args)
	case "info":
		return info(args, stdout)
	case "list":
		return list(args, stdout)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

// loadConfig reads path, or returns the defaults when path is empty, and
// installs the configured logger.
func loadConfig(path string) (*caterva.Config, error) {
	cfg := caterva.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = caterva.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	cfg.Logging.InitLogging()
	return cfg, nil
}

func pack(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("pack", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	shapeStr := fs.String("shape", "", "comma separated array shape")
	chunksStr := fs.String("chunks", "", "comma separated chunk shape")
	dtypeStr := fs.String("dtype", "", "item type such as <f8; sets the typesize")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 3 {
		return fmt.Errorf("%w: pack needs <in.raw> <dir> <path>", errUsage)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cp, dp, err := cfg.Params()
	if err != nil {
		return err
	}
	p := caterva.Params{}
	if p.Shape, err = parseInts(*shapeStr); err != nil {
		return fmt.Errorf("-shape: %w", err)
	}
	if p.ChunkShape, err = parseInts(*chunksStr); err != nil {
		return fmt.Errorf("-chunks: %w", err)
	}
	if *dtypeStr != "" {
		dt, err := caterva.ParseDtype(*dtypeStr)
		if err != nil {
			return fmt.Errorf("-dtype: %w", err)
		}
		p.Dtype = &dt
		cp.TypeSize = dt.ByteSize
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	a, err := caterva.Create(p, cp, dp)
	if err != nil {
		return err
	}
	defer func() { _ = a.Free() }()
	if err := a.FromBuffer(data); err != nil {
		return err
	}

	s, err := caterva.NewLocalStore(fs.Arg(1))
	if err != nil {
		return err
	}
	if err := a.Save(s, fs.Arg(2)); err != nil {
		return err
	}
	fmt.Fprintln(stdout, a.Info())
	return nil
}

func openArray(configPath, dir, path string) (*caterva.Array, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	_, dp, err := cfg.Params()
	if err != nil {
		return nil, err
	}
	s, err := caterva.NewLocalStore(dir)
	if err != nil {
		return nil, err
	}
	return caterva.Open(s, path, caterva.ModeRead, dp)
}

func unpack(args []string) error {
	fs := flag.NewFlagSet("unpack", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 3 {
		return fmt.Errorf("%w: unpack needs <dir> <path> <out.raw>", errUsage)
	}

	a, err := openArray(*configPath, fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	defer func() { _ = a.Free() }()
	out := make([]byte, a.Size()*a.ItemSize())
	if err := a.ToBuffer(out); err != nil {
		return err
	}
	return os.WriteFile(fs.Arg(2), out, 0o644)
}

func slice(args []string) error {
	fs := flag.NewFlagSet("slice", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	startStr := fs.String("start", "", "comma separated start indexes")
	stopStr := fs.String("stop", "", "comma separated stop indexes")
	stepStr := fs.String("step", "", "comma separated steps, default all 1")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 3 {
		return fmt.Errorf("%w: slice needs <dir> <path> <out.raw>", errUsage)
	}

	start, err := parseInts(*startStr)
	if err != nil {
		return fmt.Errorf("-start: %w", err)
	}
	stop, err := parseInts(*stopStr)
	if err != nil {
		return fmt.Errorf("-stop: %w", err)
	}
	var step []int
	if *stepStr != "" {
		if step, err = parseInts(*stepStr); err != nil {
			return fmt.Errorf("-step: %w", err)
		}
	}

	a, err := openArray(*configPath, fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	defer func() { _ = a.Free() }()
	s, err := a.GetSlice(start, stop, step)
	if err != nil {
		return err
	}
	defer func() { _ = s.Free() }()
	out := make([]byte, s.Size()*s.ItemSize())
	if err := s.ToBuffer(out); err != nil {
		return err
	}
	return os.WriteFile(fs.Arg(2), out, 0o644)
}

func info(args []string, stdout io.Writer) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: info needs <dir> <path>", errUsage)
	}
	a, err := openArray("", args[0], args[1])
	if err != nil {
		return err
	}
	defer func() { _ = a.Free() }()

	fmt.Fprintln(stdout, a.Info())
	st, err := a.SuperChunk().Stats()
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, st)
	for _, name := range a.SuperChunk().Metalayers() {
		content, err := a.SuperChunk().Metalayer(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "metalayer %s: %s\n", name, content)
	}
	return nil
}

func list(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: list needs <dir>", errUsage)
	}
	s, err := caterva.NewLocalStore(args[0])
	if err != nil {
		return err
	}
	paths, err := caterva.List(s)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(stdout, p)
	}
	return nil
}

func parseInts(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("empty list")
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
