/*
Copyright (c) YugabyteDB, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package srcdb

import (
	"fmt"
	"net/url"
	"strings"

	goerrors "github.com/go-errors/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/yugabyte/yb-reshard/src/dialect"
)

const (
	MYSQL      = dialect.MYSQL
	POSTGRESQL = dialect.POSTGRESQL
	ORACLE     = dialect.ORACLE
)

var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Source describes how to reach one database, either the migration source or its target.
type Source struct {
	DBType         string `json:"db_type" mapstructure:"db_type"`
	Host           string `json:"host" mapstructure:"host"`
	Port           int    `json:"port" mapstructure:"port"`
	User           string `json:"user" mapstructure:"user"`
	Password       string `json:"password" mapstructure:"password"`
	DBName         string `json:"db_name" mapstructure:"db_name"`
	DBSid          string `json:"db_sid" mapstructure:"db_sid"`
	TNSAlias       string `json:"tns_alias" mapstructure:"tns_alias"`
	Schema         string `json:"schema" mapstructure:"schema"`
	SSLMode        string `json:"ssl_mode" mapstructure:"ssl_mode"`
	SSLCertPath    string `json:"ssl_cert_path" mapstructure:"ssl_cert_path"`
	SSLKey         string `json:"ssl_key" mapstructure:"ssl_key"`
	SSLRootCert    string `json:"ssl_root_cert" mapstructure:"ssl_root_cert"`
	SSLQueryString string `json:"ssl_query_string" mapstructure:"ssl_query_string"`
	Uri            string `json:"uri" mapstructure:"uri"`
	NumConnections int    `json:"num_connections" mapstructure:"num_connections"`
}

func (s *Source) Clone() *Source {
	newS := *s
	return &newS
}

// NormalizedDBType folds aliases such as "postgres" or "mariadb".
func (s *Source) NormalizedDBType() string {
	switch strings.ToLower(s.DBType) {
	case "postgres", "pg", POSTGRESQL:
		return POSTGRESQL
	case "mariadb", MYSQL:
		return MYSQL
	default:
		return strings.ToLower(s.DBType)
	}
}

func (s *Source) DefaultPort() int {
	switch s.NormalizedDBType() {
	case MYSQL:
		return 3306
	case POSTGRESQL:
		return 5432
	case ORACLE:
		return 1521
	}
	return 0
}

func (s *Source) Validate() error {
	if !lo.Contains([]string{MYSQL, POSTGRESQL, ORACLE}, s.NormalizedDBType()) {
		return goerrors.Errorf("unsupported db type %q", s.DBType)
	}
	if s.Uri != "" {
		return nil
	}
	if s.Host == "" && s.TNSAlias == "" {
		return goerrors.Errorf("%s: host is required", s.DBType)
	}
	if s.User == "" {
		return goerrors.Errorf("%s: user is required", s.DBType)
	}
	if s.SSLMode != "" && !lo.Contains(validSSLModes, s.SSLMode) {
		return goerrors.Errorf("%s: invalid ssl mode %q", s.DBType, s.SSLMode)
	}
	return nil
}

func (s *Source) port() int {
	if s.Port != 0 {
		return s.Port
	}
	return s.DefaultPort()
}

// DriverName is the database/sql driver registered for the source's db type.
func (s *Source) DriverName() string {
	switch s.NormalizedDBType() {
	case MYSQL:
		return "mysql"
	case POSTGRESQL:
		return "pgx"
	case ORACLE:
		return "godror"
	}
	return ""
}

// GetConnectionUri returns the DSN handed to the driver. An explicit Uri wins.
func (s *Source) GetConnectionUri() (string, error) {
	if s.Uri != "" {
		return s.Uri, nil
	}
	switch s.NormalizedDBType() {
	case MYSQL:
		return s.mysqlDSN()
	case POSTGRESQL:
		return s.postgresURL(), nil
	case ORACLE:
		return fmt.Sprintf(`user="%s" password="%s" connectString="%s"`,
			s.User, s.Password, GetOracleConnectionString(s.Host, s.port(), s.DBName, s.DBSid, s.TNSAlias)), nil
	}
	return "", goerrors.Errorf("unsupported db type %q", s.DBType)
}

func (s *Source) mysqlDSN() (string, error) {
	parseSSLString(s)
	cfg := mysql.NewConfig()
	cfg.User = s.User
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", s.Host, s.port())
	cfg.DBName = s.DBName
	cfg.ParseTime = true
	switch s.SSLMode {
	case "", "disable":
		cfg.TLSConfig = "false"
	case "allow", "prefer":
		cfg.TLSConfig = "preferred"
	case "require":
		cfg.TLSConfig = "skip-verify"
	case "verify-ca", "verify-full":
		cfg.TLSConfig = "true"
	default:
		return "", goerrors.Errorf("invalid ssl mode %q", s.SSLMode)
	}
	return cfg.FormatDSN(), nil
}

func (s *Source) postgresURL() string {
	sourceUrl := &url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(s.User, s.Password),
		Host:     fmt.Sprintf("%s:%d", s.Host, s.port()),
		Path:     s.DBName,
		RawQuery: generateSSLQueryStringIfNotExists(s),
	}
	return sourceUrl.String()
}

// ReplicationConnString is the postgres URL with replication=database set, as required
// by a logical replication connection.
func (s *Source) ReplicationConnString() (string, error) {
	if s.NormalizedDBType() != POSTGRESQL {
		return "", goerrors.Errorf("logical replication is only supported for postgresql, got %q", s.DBType)
	}
	uri, err := s.GetConnectionUri()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse connection uri: %w", err)
	}
	q := u.Query()
	q.Set("replication", "database")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// BinlogAddress returns the host and port a binlog replica connection dials.
func (s *Source) BinlogAddress() (string, uint16, error) {
	if s.NormalizedDBType() != MYSQL {
		return "", 0, goerrors.Errorf("binlog streaming is only supported for mysql, got %q", s.DBType)
	}
	if s.Host == "" {
		return "", 0, goerrors.Errorf("mysql: host is required for binlog streaming")
	}
	return s.Host, uint16(s.port()), nil
}

func GetOracleConnectionString(host string, port int, dbname string, dbsid string, tnsalias string) string {
	switch true {
	case dbsid != "":
		return fmt.Sprintf(`(DESCRIPTION=(ADDRESS=(PROTOCOL=TCP)(HOST=%s)(PORT=%d))(CONNECT_DATA=(SID=%s)))`,
			host, port, dbsid)
	case tnsalias != "":
		return tnsalias
	case dbname != "":
		return fmt.Sprintf(`(DESCRIPTION=(ADDRESS=(PROTOCOL=TCP)(HOST=%s)(PORT=%d))(CONNECT_DATA=(SERVICE_NAME=%s)))`,
			host, port, dbname)
	}
	return ""
}

func parseSSLString(source *Source) {
	if source.SSLQueryString == "" {
		return
	}
	for _, param := range strings.Split(source.SSLQueryString, "&") {
		key, value, found := strings.Cut(param, "=")
		if !found {
			continue
		}
		switch key {
		case "sslmode":
			source.SSLMode = value
		case "sslcert":
			source.SSLCertPath = value
		case "sslrootcert":
			source.SSLRootCert = value
		case "sslkey":
			source.SSLKey = value
		}
	}
}

func generateSSLQueryStringIfNotExists(s *Source) string {
	if s.SSLQueryString != "" {
		return s.SSLQueryString
	}
	sslMode := lo.Ternary(s.SSLMode == "", "prefer", s.SSLMode)
	if !lo.Contains(validSSLModes, sslMode) {
		log.Warnf("invalid sslmode %q, using prefer", sslMode)
		sslMode = "prefer"
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	if lo.Contains([]string{"require", "verify-ca", "verify-full"}, sslMode) {
		if s.SSLCertPath != "" {
			query.Set("sslcert", s.SSLCertPath)
		}
		if s.SSLKey != "" {
			query.Set("sslkey", s.SSLKey)
		}
		if s.SSLRootCert != "" {
			query.Set("sslrootcert", s.SSLRootCert)
		}
	}
	return query.Encode()
}

// Redacted is safe to log.
func (s *Source) Redacted() *Source {
	redacted := s.Clone()
	if redacted.Password != "" {
		redacted.Password = "XXX"
	}
	if u, err := url.Parse(redacted.Uri); err == nil && u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "XXX")
			redacted.Uri = u.String()
		}
	}
	return redacted
}
