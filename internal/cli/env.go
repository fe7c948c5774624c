package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// overrideEnvVars name env vars that point at an env file and win over --env.
var overrideEnvVars = []string{"NEWSWATCH_ENV_FILE", "HORSE_ENV_FILE"}

// EnvLoader loads a .env file chosen from the --env flag, override variables and fallbacks.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// Load overloads the process environment from the first readable candidate file.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	log.SetOutput(os.Stderr)

	for _, candidate := range l.candidates() {
		if err := godotenv.Overload(candidate.path); err != nil {
			if candidate.origin != "" && candidate.explicit {
				log.Printf("Warning: failed to load %s=%s", candidate.origin, candidate.path)
			}
			continue
		}
		log.Printf("Loaded environment from %s: %s", candidate.label(), candidate.path)
		return candidate.path, nil
	}

	return "", fmt.Errorf("failed to load env file from %s", l.requested())
}

type envCandidate struct {
	path     string
	origin   string
	explicit bool
}

func (c envCandidate) label() string {
	if c.origin == "" {
		return "file"
	}
	return c.origin
}

func (l *EnvLoader) candidates() []envCandidate {
	out := make([]envCandidate, 0, len(overrideEnvVars)+3)
	seen := make(map[string]struct{})
	add := func(c envCandidate) {
		if c.path == "" {
			return
		}
		if _, ok := seen[c.path]; ok {
			return
		}
		seen[c.path] = struct{}{}
		out = append(out, c)
	}

	for _, envVar := range overrideEnvVars {
		add(envCandidate{path: strings.TrimSpace(os.Getenv(envVar)), origin: envVar, explicit: true})
	}

	requested := l.requested()
	add(envCandidate{path: requested, origin: "--env"})
	if base := filepath.Base(requested); base != requested && base != "." {
		add(envCandidate{path: base, origin: "basename fallback"})
	}
	add(envCandidate{path: l.defaultPath, origin: "default"})
	return out
}

func (l *EnvLoader) requested() string {
	if l.value != nil {
		if requested := strings.TrimSpace(*l.value); requested != "" {
			return requested
		}
	}
	return l.defaultPath
}
