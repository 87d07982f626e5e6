package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurlHostForListenAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		listenAddr string
		want       string
	}{
		{listenAddr: ":8080", want: "localhost:8080"},
		{listenAddr: "127.0.0.1:9000", want: "127.0.0.1:9000"},
		{listenAddr: "0.0.0.0:8080", want: "localhost:8080"},
		{listenAddr: "[::]:8443", want: "localhost:8443"},
		{listenAddr: "[::1]:8080", want: "[::1]:8080"},
		{listenAddr: " tables.internal:9090 ", want: "tables.internal:9090"},
		{listenAddr: "  :7070  ", want: "localhost:7070"},
		{listenAddr: "", want: "localhost:8080"},
		{listenAddr: "   ", want: "localhost:8080"},
		{listenAddr: "localhost", want: "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.listenAddr, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, curlHostForListenAddr(tt.listenAddr))
		})
	}
}

func TestTablesURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http://localhost:8080/v1/schemas/default/tables", tablesURL(":8080", "default"))
	assert.Equal(t, "http://[::1]:9000/v1/schemas/pet%20store/tables", tablesURL("[::1]:9000", "pet store"))
}
