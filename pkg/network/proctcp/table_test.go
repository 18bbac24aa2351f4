// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package proctcp

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/connbeat-agent/pkg/network"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return b
}

func TestParseIPv4(t *testing.T) {
	table, err := ParseBytes(readFixture(t, "tcp_scenario2"), network.AFINET)
	require.NoError(t, err)
	require.Zero(t, table.Malformed)
	require.Len(t, table.Records, 3)

	assert.Equal(t, netip.MustParseAddrPort("0.0.0.0:80"), table.Records[0].Local)
	assert.Equal(t, network.Listen, table.Records[0].State)
	assert.Equal(t, uint64(15231), table.Records[0].Inode)
	assert.False(t, table.Records[0].HasRemote())

	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:631"), table.Records[1].Local)

	est := table.Records[2]
	assert.Equal(t, netip.MustParseAddrPort("192.168.2.243:40074"), est.Local)
	assert.Equal(t, netip.MustParseAddrPort("216.58.223.46:443"), est.Remote)
	assert.Equal(t, network.Established, est.State)
	assert.Equal(t, uint64(77421), est.Inode)
	assert.Equal(t, network.AFINET, est.Family)
	assert.True(t, est.HasRemote())
}

func TestParseIPv6(t *testing.T) {
	table, err := ParseBytes(readFixture(t, "tcp6_rows"), network.AFINET6)
	require.NoError(t, err)
	require.Zero(t, table.Malformed)
	require.Len(t, table.Records, 3)

	assert.Equal(t, netip.MustParseAddrPort("[::]:80"), table.Records[0].Local)
	assert.True(t, table.Records[0].IsListening())

	// mapped v4 addresses are unmapped
	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:8080"), table.Records[1].Local)
	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:54321"), table.Records[1].Remote)

	assert.Equal(t, netip.MustParseAddrPort("[fe80::5054:ff:fe1d:adb6]:22"), table.Records[2].Local)
	assert.Equal(t, netip.MustParseAddrPort("[fe80::5054:ff:ff1d:adb6]:58020"), table.Records[2].Remote)
	assert.Equal(t, network.AFINET6, table.Records[2].Family)
}

func TestParseMalformedRowsAreSkipped(t *testing.T) {
	table, err := ParseBytes(readFixture(t, "tcp_malformed"), network.AFINET)
	require.NoError(t, err)

	require.Len(t, table.Records, 2)
	assert.Equal(t, uint16(80), table.Records[0].Local.Port())
	assert.Equal(t, uint16(8080), table.Records[1].Local.Port())

	assert.Equal(t, 3, table.Malformed)
	require.Len(t, table.Errors, 3)
	for _, err := range table.Errors {
		assert.ErrorIs(t, err, ErrMalformedRow)
	}
	assert.Contains(t, table.Errors[0].Error(), "line 3")
}

func TestParseOverlongRow(t *testing.T) {
	good := "0: 0100007F:0050 00000000:0000 0A 00000000:00000000 00:00000000 00000000 0 0 42 1\n"
	input := good + strings.Repeat("f", 70*1024) + "\n" + strings.Replace(good, " 42 ", " 43 ", 1)

	table, err := Parse(strings.NewReader(input), network.AFINET)
	require.NoError(t, err)
	require.Len(t, table.Records, 2)
	assert.Equal(t, uint64(42), table.Records[0].Inode)
	assert.Equal(t, uint64(43), table.Records[1].Inode)

	assert.Equal(t, 1, table.Malformed)
	require.Len(t, table.Errors, 1)
	assert.ErrorIs(t, table.Errors[0], ErrMalformedRow)
	assert.Contains(t, table.Errors[0].Error(), "line 2")
}

func TestParseRow(t *testing.T) {
	const valid = "0: 0100007F:0050 00000000:0000 0A 00000000:00000000 00:00000000 00000000 0 0 42 1"

	tests := []struct {
		name   string
		line   string
		family network.ConnectionFamily
		valid  bool
	}{
		{name: "valid", line: valid, family: network.AFINET, valid: true},
		{name: "too few fields", line: "0: 0100007F:0050 00000000:0000 0A", family: network.AFINET},
		{name: "missing port", line: strings.Replace(valid, "0100007F:0050", "0100007F", 1), family: network.AFINET},
		{name: "bad port", line: strings.Replace(valid, ":0050", ":XYZ", 1), family: network.AFINET},
		{name: "bad address", line: strings.Replace(valid, "0100007F", "01000Q7F", 1), family: network.AFINET},
		{name: "v4 row in a v6 table", line: valid, family: network.AFINET6},
		{name: "bad state", line: strings.Replace(valid, " 0A ", " GG ", 1), family: network.AFINET},
		{name: "zero state", line: strings.Replace(valid, " 0A ", " 00 ", 1), family: network.AFINET},
		{name: "bad inode", line: strings.Replace(valid, " 42 ", " -1 ", 1), family: network.AFINET},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := parseRow(strings.Fields(tt.line), tt.family)
			if !tt.valid {
				assert.ErrorIs(t, err, ErrMalformedRow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:80"), rec.Local)
			assert.Equal(t, uint64(42), rec.Inode)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	for name, input := range map[string]string{
		"empty":       "",
		"blank lines": "\n\n  \n",
		"header only": string(readFixture(t, "tcp6_empty")),
	} {
		t.Run(name, func(t *testing.T) {
			table, err := Parse(strings.NewReader(input), network.AFINET6)
			require.NoError(t, err)
			assert.Empty(t, table.Records)
			assert.Zero(t, table.Malformed)
		})
	}
}

func TestFileSource(t *testing.T) {
	ctx := context.Background()

	t.Run("reads the table", func(t *testing.T) {
		s := NewFileSource("test", filepath.Join("testdata", "tcp_two_rows"), network.AFINET, false)
		table, err := s.Read(ctx)
		require.NoError(t, err)
		assert.Len(t, table.Records, 2)
		assert.Equal(t, "test", s.Name())
		assert.Equal(t, network.AFINET, s.Family())
	})

	t.Run("missing required table fails", func(t *testing.T) {
		s := NewFileSource("test", filepath.Join(t.TempDir(), "tcp"), network.AFINET, false)
		_, err := s.Read(ctx)
		assert.Error(t, err)
	})

	t.Run("missing optional table is empty", func(t *testing.T) {
		s := NewFileSource("test", filepath.Join(t.TempDir(), "tcp6"), network.AFINET6, true)
		table, err := s.Read(ctx)
		require.NoError(t, err)
		assert.Empty(t, table.Records)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		s := NewFileSource("test", filepath.Join("testdata", "tcp_two_rows"), network.AFINET, false)
		_, err := s.Read(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestHostSources(t *testing.T) {
	sources := HostSources("/host/proc", TablePaths{})
	require.Len(t, sources, 2)
	assert.Equal(t, "/host/proc/net/tcp", sources[0].(*FileSource).Path())
	assert.Equal(t, "/host/proc/net/tcp6", sources[1].(*FileSource).Path())

	sources = HostSources("/proc", TablePaths{TCP: "/tmp/tcp"})
	assert.Equal(t, "/tmp/tcp", sources[0].(*FileSource).Path())
	assert.Equal(t, "/proc/net/tcp6", sources[1].(*FileSource).Path())
}

func TestNamespaceSources(t *testing.T) {
	sources := NamespaceSources("/proc", "docker/abcdef0123", 4242)
	require.Len(t, sources, 2)
	assert.Equal(t, "/proc/4242/net/tcp", sources[0].(*FileSource).Path())
	assert.Equal(t, "docker/abcdef0123/tcp6", sources[1].Name())
	assert.Equal(t, network.AFINET6, sources[1].Family())
}

func TestStaticSource(t *testing.T) {
	s := NewStaticSource("mem", network.AFINET, readFixture(t, "tcp_listen80"))
	table, err := s.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, table.Records, 1)
	assert.Equal(t, uint16(80), table.Records[0].Local.Port())
}
