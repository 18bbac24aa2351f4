// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package proctcp reads the kernel TCP socket tables exposed as
// /proc/net/tcp and /proc/net/tcp6.
//
// The format is described in
// https://www.kernel.org/doc/Documentation/networking/proc_net_tcp.txt
package proctcp

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"github.com/DataDog/connbeat-agent/pkg/network"
)

// ErrMalformedRow is wrapped by every row level parse error
var ErrMalformedRow = errors.New("malformed socket table row")

const (
	// minFields is the number of columns up to and including the inode
	minFields = 10
	// maxRowSize bounds one row, longer rows are skipped as malformed
	maxRowSize = 64 * 1024
)

// Table is the parsed content of one socket table snapshot
type Table struct {
	Records []network.SocketRecord
	// Malformed is the number of rows that were skipped
	Malformed int
	// Errors holds the parse error of every skipped row
	Errors []error
}

// Parse reads a socket table. Malformed rows are skipped and counted, they
// never fail the whole table. An error is only returned when reading r fails.
func Parse(r io.Reader, family network.ConnectionFamily) (Table, error) {
	var t Table

	br := bufio.NewReader(r)
	lineNo := 0
	for {
		line, tooLong, err := readRow(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return t, fmt.Errorf("reading socket table: %w", err)
		}
		lineNo++
		if tooLong {
			t.Malformed++
			t.Errors = append(t.Errors, fmt.Errorf("line %d: %w: longer than %d bytes", lineNo, ErrMalformedRow, maxRowSize))
			continue
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		fields := strings.Fields(string(line))
		if fields[0] == "sl" {
			continue
		}

		rec, err := parseRow(fields, family)
		if err != nil {
			t.Malformed++
			t.Errors = append(t.Errors, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

// readRow returns the next line without its line ending. The rest of a line
// longer than maxRowSize is consumed and dropped.
func readRow(br *bufio.Reader) ([]byte, bool, error) {
	var line []byte
	tooLong := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return nil, false, err
		}
		if !tooLong {
			line = append(line, chunk...)
			if len(line) > maxRowSize {
				tooLong = true
				line = nil
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

// ParseBytes is Parse over an in-memory snapshot
func ParseBytes(b []byte, family network.ConnectionFamily) (Table, error) {
	return Parse(bytes.NewReader(b), family)
}

func parseRow(fields []string, family network.ConnectionFamily) (network.SocketRecord, error) {
	if len(fields) < minFields {
		return network.SocketRecord{}, fmt.Errorf("%w: %d fields, expected at least %d", ErrMalformedRow, len(fields), minFields)
	}

	local, err := parseAddrPort(fields[1], family)
	if err != nil {
		return network.SocketRecord{}, fmt.Errorf("%w: local address: %v", ErrMalformedRow, err)
	}
	remote, err := parseAddrPort(fields[2], family)
	if err != nil {
		return network.SocketRecord{}, fmt.Errorf("%w: remote address: %v", ErrMalformedRow, err)
	}
	st, err := strconv.ParseUint(fields[3], 16, 8)
	if err != nil || st == 0 {
		return network.SocketRecord{}, fmt.Errorf("%w: state %q", ErrMalformedRow, fields[3])
	}
	inode, err := strconv.ParseUint(fields[9], 10, 64)
	if err != nil {
		return network.SocketRecord{}, fmt.Errorf("%w: inode %q", ErrMalformedRow, fields[9])
	}

	return network.SocketRecord{
		ConnectionTuple: network.ConnectionTuple{
			Local:  local,
			Remote: remote,
		},
		State:  network.TCPState(st),
		Inode:  inode,
		Family: family,
	}, nil
}

// parseAddrPort decodes the "ADDR:PORT" hex form. Addresses are stored in
// host byte order 32 bits at a time, the port is big endian.
func parseAddrPort(s string, family network.ConnectionFamily) (netip.AddrPort, error) {
	hexAddr, hexPort, ok := strings.Cut(s, ":")
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("missing port separator in %q", s)
	}

	port, err := strconv.ParseUint(hexPort, 16, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid port %q", hexPort)
	}

	addr, err := parseAddr(hexAddr, family)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(addr, uint16(port)), nil
}

func parseAddr(s string, family network.ConnectionFamily) (netip.Addr, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid address %q", s)
	}

	switch {
	case family == network.AFINET && len(raw) == 4:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], binary.LittleEndian.Uint32(raw))
		return netip.AddrFrom4(b), nil
	case family == network.AFINET6 && len(raw) == 16:
		var b [16]byte
		for i := 0; i < 16; i += 4 {
			binary.BigEndian.PutUint32(b[i:], binary.LittleEndian.Uint32(raw[i:i+4]))
		}
		// v4 sockets accepted on a dual stack listener show up as ::ffff:a.b.c.d
		return netip.AddrFrom16(b).Unmap(), nil
	default:
		return netip.Addr{}, fmt.Errorf("address %q has %d bytes, not a %s address", s, len(raw), family)
	}
}
