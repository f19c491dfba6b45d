// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package pg

import (
	"strings"
	"testing"
)

func TestConnString(t *testing.T) {
	tests := []struct {
		name                           string
		host, port, user, pass, dbName string
		want                           string
	}{
		{
			name: "tcp no pass",
			host: "127.0.0.1", port: "5432", user: "escrow", dbName: "escrow_mainnet",
			want: "host=127.0.0.1 user=escrow dbname=escrow_mainnet sslmode=disable port=5432",
		},
		{
			name: "socket ignores port",
			host: "/run/postgresql", port: "5432", user: "escrow", pass: "pw", dbName: "escrow",
			want: "host=/run/postgresql user=escrow dbname=escrow sslmode=disable password=pw",
		},
		{
			name: "quoted password",
			host: "db", port: "5433", user: "escrow", pass: `it's a pass\`, dbName: "escrow",
			want: `host=db user=escrow dbname=escrow sslmode=disable password='it\'s a pass\\' port=5433`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := connString(tt.host, tt.port, tt.user, tt.pass, tt.dbName); got != tt.want {
				t.Fatalf("wanted %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSettings(t *testing.T) {
	settings := pgSettings{
		{name: "fsync", setting: "on", source: "default"},
		{name: "synchronous_commit", setting: "off", source: "configuration file"},
		{name: "max_connections", setting: "100", source: "default"},
	}
	if v, found := settings.lookup("synchronous_commit"); !found || v != "off" {
		t.Fatalf("wrong lookup %q, %t", v, found)
	}
	if _, found := settings.lookup("wal_level"); found {
		t.Fatalf("found missing setting")
	}
	s := settings.String()
	if !strings.HasPrefix(s, "NAME") || strings.Count(s, "\n") != 4 {
		t.Fatalf("unexpected table:\n%s", s)
	}
}
