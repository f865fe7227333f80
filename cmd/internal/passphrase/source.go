// Package passphrase resolves the signer keystore passphrase for the
// mintforge binaries. Resolution order is the environment variable, a secret
// file named by the <envVar>_FILE convention (docker/k8s mounted secrets),
// and finally an interactive terminal prompt.
package passphrase

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// DefaultEnvVar is the variable the mintforge binaries consult for the
// signer keystore passphrase.
const DefaultEnvVar = "MINTFORGE_KEYSTORE_PASSPHRASE"

// fileSuffix appended to the env var name points at a file whose first line
// holds the passphrase.
const fileSuffix = "_FILE"

// Source resolves the signer keystore passphrase once and caches the result,
// so the daemon and CLI can call Get from multiple code paths without
// re-prompting the operator.
type Source struct {
	envVar string

	once  sync.Once
	value string
	err   error
}

// NewSource returns a Source bound to envVar. Pass DefaultEnvVar unless a
// command needs its own variable.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar)}
}

// Get returns the resolved passphrase, blocking on a terminal prompt if no
// non-interactive source is available. The first result, success or failure,
// is sticky.
func (s *Source) Get() (string, error) {
	s.once.Do(func() { s.value, s.err = s.resolve() })
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok, err := fromEnv(s.envVar); ok || err != nil {
			return value, err
		}
		if value, ok, err := fromFile(s.envVar + fileSuffix); ok || err != nil {
			return value, err
		}
	}
	return s.fromTerminal()
}

func fromEnv(name string) (string, bool, error) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", false, nil
	}
	if strings.TrimSpace(value) == "" {
		return "", true, fmt.Errorf("passphrase: %s is set but empty", name)
	}
	return value, true, nil
}

// fromFile reads the first line of the file named by the env var, which is how
// mounted secrets usually arrive. A trailing newline is not part of the
// passphrase; interior whitespace is.
func fromFile(name string) (string, bool, error) {
	path, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(path) == "" {
		return "", false, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", true, fmt.Errorf("passphrase: open %s=%s: %w", name, path, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return "", true, fmt.Errorf("passphrase: read %s: %w", path, err)
	}
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return "", true, fmt.Errorf("passphrase: %s holds an empty passphrase", path)
	}
	return line, true, nil
}

func (s *Source) fromTerminal() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("passphrase: no terminal; set %s or %s", s.envVar, s.envVar+fileSuffix)
		}
		return "", errors.New("passphrase: no terminal available to prompt")
	}

	fmt.Fprint(os.Stderr, "Signer keystore passphrase: ")
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("passphrase: read from terminal: %w", err)
	}
	if strings.TrimSpace(string(secret)) == "" {
		return "", errors.New("passphrase: empty passphrase refused")
	}
	return string(secret), nil
}
