package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MarcinKonowalczyk/buffy/bf"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const configFilename = "config.json"

// Annotations understood on the OCI spec of a bundle.
const (
	TapeSizeAnnotation  = "io.buffy.tape-size"
	LoopLimitAnnotation = "io.buffy.loop-limit"
)

var scriptExtensions = []string{".bf", ".b", ".brainfuck"}

type Config struct {
	Root       string
	Entrypoint string
	Path       []string
	TapeSize   int
	LoopLimit  int
}

// ReadConfig reads the OCI spec of the bundle at path and checks that its
// entrypoint is a well formed brainfuck program.
func ReadConfig(path string) (*Config, error) {
	filePath := filepath.Join(path, configFilename)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found: %w", configFilename, errdefs.ErrNotFound)
		}
		return nil, err
	}

	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configFilename, err)
	}

	if spec.Root == nil || spec.Root.Path == "" {
		return nil, errdefs.ErrInvalidArgument.WithMessage("root path not found in config file " + configFilename)
	}
	root := spec.Root.Path
	if !filepath.IsAbs(root) {
		root = filepath.Join(path, root)
	}

	if spec.Process == nil || len(spec.Process.Args) != 1 {
		n := 0
		if spec.Process != nil {
			n = len(spec.Process.Args)
		}
		return nil, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("incorrect number of args in the CMD. Expected 1, got %d", n))
	}
	arg0 := spec.Process.Args[0]

	if !isScript(arg0) {
		return nil, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("entry point (%s) is not a brainfuck file", arg0))
	}

	script := filepath.Join(root, arg0)
	source, err := os.ReadFile(script)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("script %s does not exist: %w", arg0, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("reading script %s: %w", arg0, err)
	}
	if err := bf.Validate(string(source)); err != nil {
		return nil, fmt.Errorf("script %s: %w", arg0, err)
	}

	tapeSize, err := intAnnotation(spec.Annotations, TapeSizeAnnotation, bf.DefaultTapeSize)
	if err != nil {
		return nil, err
	}
	loopLimit, err := intAnnotation(spec.Annotations, LoopLimitAnnotation, bf.Unbounded)
	if err != nil {
		return nil, err
	}
	if err := bf.CheckLimits(tapeSize, loopLimit); err != nil {
		return nil, fmt.Errorf("annotations: %w", err)
	}

	return &Config{
		Root:       root,
		Entrypoint: arg0,
		Path:       searchPath(spec.Process.Env),
		TapeSize:   tapeSize,
		LoopLimit:  loopLimit,
	}, nil
}

func isScript(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range scriptExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func intAnnotation(annotations map[string]string, key string, def int) (int, error) {
	v, ok := annotations[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("annotation %s: %q is not an integer", key, v))
	}
	return n, nil
}

// searchPath splits the PATH variable of env
func searchPath(env []string) []string {
	for _, e := range env {
		if path, ok := strings.CutPrefix(e, "PATH="); ok {
			return strings.Split(path, ":")
		}
	}
	return []string{}
}

func (c *Config) FullPath() string {
	return filepath.Join(c.Root, c.Entrypoint)
}

// Args are the arguments for running the entrypoint in brainfuck mode.
func (c *Config) Args() []string {
	return []string{
		"brainfuck",
		"-file", c.FullPath(),
		"-tape-size", strconv.Itoa(c.TapeSize),
		"-loop-limit", strconv.Itoa(c.LoopLimit),
	}
}
