package adapters

import (
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"
)

// MySQL is the MySQL dialect on go-sql-driver/mysql.
var MySQL = Dialect{
	Name:        "mysql",
	Driver:      "mysql",
	Placeholder: Question,
}

// MySQLDSN builds a DSN with parseTime on so DATETIME columns scan as
// time.Time rather than []byte.
func MySQLDSN(host string, port int, user, password, dbname string) string {
	cfg := gomysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.User = user
	cfg.Passwd = password
	cfg.DBName = dbname
	cfg.ParseTime = true
	return cfg.FormatDSN()
}
