package opprovider

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/mediadb/credentials"
)

func TestWithOnePasswordMissingCLI(t *testing.T) {
	old := Command
	Command = "mediadb-test-no-such-op-binary"
	t.Cleanup(func() { Command = old })

	r := credentials.NewResolver(WithOnePassword())
	_, err := r.ResolveReader(context.Background(), strings.NewReader(`{"auth_token": {{ op "op://vault/item/token" | json }}}`))
	require.ErrorContains(t, err, `provider "op" failed`)
}
