package proto_test

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/stretchr/testify/assert"

	"github.com/wetware/rpcpool"
	"github.com/wetware/rpcpool/util/proto"
)

func TestRoot(t *testing.T) {
	t.Parallel()

	assert.Equal(t, protocol.ID("/rpcpool/"+rpcpool.Version+"/echo"), proto.Root("echo"))
	assert.Equal(t, proto.Root(proto.Default), proto.Root(""),
		"empty name should select the default sub-protocol")
	assert.Equal(t, []protocol.ID{proto.Root("echo")}, proto.Namespace("echo"))
}

func TestMatcher(t *testing.T) {
	t.Parallel()

	matcher := proto.NewMatcher("echo")

	for _, tt := range []struct {
		name  string
		id    protocol.ID
		match bool
	}{
		{name: "Hit", id: proto.Root("echo"), match: true},
		{name: "CompatibleVersion", id: "/rpcpool/0.9.1/echo", match: true},
		{name: "IncompatibleVersion", id: "/rpcpool/1.0.0/echo"},
		{name: "OtherName", id: proto.Root("miss")},
		{name: "LongerName", id: proto.Root("echo/v2")},
		{name: "OtherFamily", id: "/ww/0.1.0/echo"},
	} {
		assert.Equal(t, tt.match, matcher.Match(tt.id), tt.name)
	}

	nested := proto.NewMatcher("echo/v2")
	assert.True(t, nested.Match(proto.Root("echo/v2")))
	assert.False(t, nested.Match(proto.Root("echo")))
}

func TestName(t *testing.T) {
	t.Parallel()

	name, ok := proto.Name(proto.Root("echo/v2"))
	assert.True(t, ok)
	assert.Equal(t, "echo/v2", name)

	_, ok = proto.Name("/ipfs/id/1.0.0")
	assert.False(t, ok)
}

func TestJoin(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name  string
		input []protocol.ID
		want  protocol.ID
	}{
		{
			name:  "Empty",
			input: []protocol.ID{"", ""},
		},
		{
			name:  "Root",
			input: []protocol.ID{"/", ""},
			want:  "/",
		},
		{
			name:  "ShouldHandleSlashes",
			input: []protocol.ID{"/", "/", "/foo/", "/bar/", "/"},
			want:  "/foo/bar",
		},
	} {
		assert.Equal(t, tt.want, proto.Join(tt.input...), tt.name)
	}
}

func TestParts(t *testing.T) {
	t.Parallel()

	assert.Empty(t, proto.Parts(""))
	assert.Empty(t, proto.Parts("/"))
	assert.Equal(t, []protocol.ID{"foo", "bar"}, proto.Parts("foo/bar"))
	assert.Equal(t,
		[]protocol.ID{"foo", "bar", "baz", "qux"},
		proto.Parts("//foo//bar//baz//qux//"))
}
