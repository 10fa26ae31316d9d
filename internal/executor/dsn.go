package executor

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// buildDSN maps a target to a driver DSN. The TLS policy follows the stored
// ssl mode: "disable" turns TLS off, "verify-full"/"verify-ca" request peer
// verification, and every other mode connects over TLS without verifying the
// certificate. Callers log the unverified case before reaching here.
func buildDSN(target Target, budget time.Duration) (string, error) {
	switch target.Driver {
	case "postgres":
		return postgresDSN(target, budget), nil
	case "mysql":
		return mysqlDSN(target, budget), nil
	case "sqlserver":
		return sqlserverDSN(target, budget), nil
	default:
		return "", fmt.Errorf("unsupported driver %q", target.Driver)
	}
}

func postgresDSN(target Target, budget time.Duration) string {
	if target.Port == 0 {
		target.Port = 5432
	}
	sslMode := normalizeSSLMode(target.SSLMode)
	switch sslMode {
	case "disable", "verify-full", "verify-ca":
	default:
		sslMode = "require"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		target.Host, target.Port, target.User, target.Password, target.Database, sslMode, timeoutSeconds(budget))
}

func mysqlDSN(target Target, budget time.Duration) string {
	if target.Port == 0 {
		target.Port = 3306
	}
	var tls string
	switch normalizeSSLMode(target.SSLMode) {
	case "disable":
		tls = "false"
	case "verify-full", "verify-ca":
		tls = "true"
	default:
		tls = "skip-verify"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s&timeout=%ds&readTimeout=%ds",
		target.User, target.Password, target.Host, target.Port, target.Database, tls, timeoutSeconds(budget), timeoutSeconds(budget))
}

func sqlserverDSN(target Target, budget time.Duration) string {
	if target.Port == 0 {
		target.Port = 1433
	}
	params := url.Values{}
	params.Set("database", target.Database)
	switch normalizeSSLMode(target.SSLMode) {
	case "disable":
		params.Set("encrypt", "disable")
	case "verify-full", "verify-ca":
		params.Set("encrypt", "true")
	default:
		params.Set("encrypt", "true")
		params.Set("trustservercertificate", "true")
	}
	params.Set("dial timeout", fmt.Sprintf("%d", timeoutSeconds(budget)))
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(target.User), url.QueryEscape(target.Password), target.Host, target.Port, params.Encode())
}

func normalizeSSLMode(mode string) string {
	return strings.ToLower(strings.TrimSpace(mode))
}

func timeoutSeconds(budget time.Duration) int {
	secs := int(budget / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
