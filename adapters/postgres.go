package adapters

import (
	"fmt"
	"net/url"

	_ "github.com/lib/pq"
)

// Postgres is the PostgreSQL dialect on lib/pq.
var Postgres = Dialect{
	Name:        "postgres",
	Driver:      "postgres",
	Placeholder: Dollar,
}

// PostgresDSN builds a postgres:// URL. An empty sslmode defaults to
// "disable", matching local development setups.
func PostgresDSN(host string, port int, user, password, dbname, sslmode string) string {
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + dbname,
		RawQuery: "sslmode=" + sslmode,
	}
	return u.String()
}
