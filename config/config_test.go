package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseFirstNode(t *testing.T) {
	cfg, err := Parse([]string{"--first", "--root-dir", "/tmp/node1"})
	require.NoError(t, err)
	require.True(t, cfg.First)
	require.Equal(t, "/tmp/node1", cfg.RootDir)
	require.Equal(t, 30*time.Second, cfg.QueryTimeout)
}

func TestParseJoinerNode(t *testing.T) {
	cfg, err := Parse([]string{
		"--network-contacts-file", "/tmp/contacts.dat",
		"--root-dir", "/tmp/node2",
		"--query-timeout", "5s",
	})
	require.NoError(t, err)
	require.False(t, cfg.First)
	require.Equal(t, "/tmp/contacts.dat", cfg.NetworkContactsFile)
	require.Equal(t, 5*time.Second, cfg.QueryTimeout)
}

func TestParseRejectsConflictingBootstrapFlags(t *testing.T) {
	_, err := Parse([]string{"--first", "--network-contacts-file", "/tmp/c", "--root-dir", "/tmp/n"})
	require.ErrorIs(t, err, ErrConflictingBootstrap)
}

func TestParseRejectsMissingBootstrapFlags(t *testing.T) {
	_, err := Parse([]string{"--root-dir", "/tmp/n"})
	require.ErrorIs(t, err, ErrMissingBootstrap)
}
