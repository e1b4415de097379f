// Package opprovider resolves credential template references with the
// 1Password CLI.
package opprovider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/wolfeidau/mediadb/credentials"
)

// Command is the 1Password CLI binary looked up on PATH.
var Command = "op"

// WithOnePassword registers an "op" template function that runs
// `op read <ref>`, for example {{ op "op://media/mediadb/token" | json }}.
func WithOnePassword() credentials.ResolverOption {
	return credentials.WithProvider("op", read)
}

func read(ctx context.Context, ref string) (string, error) {
	cmd := exec.CommandContext(ctx, Command, "read", "--no-newline", ref)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("op read %q: %s: %w", ref, strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
