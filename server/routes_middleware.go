// routes_middleware.go - Middleware-Funktionen fuer den HTTP-Router
// Enthaelt: isLocalIP(), allowedHost(), allowedHostsMiddleware(), requestIDMiddleware()

package server

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// localTLDs werden ohne Namensaufloesung als lokal akzeptiert
var localTLDs = []string{"localhost", "local", "internal"}

// isLocalIP prueft ob die IP-Adresse zu einem lokalen Interface gehoert
func isLocalIP(ip netip.Addr) bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			if prefix, err := netip.ParsePrefix(a.String()); err == nil && prefix.Addr() == ip {
				return true
			}
		}
	}

	return false
}

// allowedHost prueft ob der Host erlaubt ist
func allowedHost(host string) bool {
	host = strings.ToLower(host)

	if host == "" || host == "localhost" {
		return true
	}

	if hostname, err := os.Hostname(); err == nil && host == strings.ToLower(hostname) {
		return true
	}

	return slices.ContainsFunc(localTLDs, func(tld string) bool {
		return strings.HasSuffix(host, "."+tld)
	})
}

// allowedHostsMiddleware blockiert Anfragen an fremde Hostnamen, solange
// der Server nur auf Loopback lauscht
func allowedHostsMiddleware(addr net.Addr) gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr == nil {
			c.Next()
			return
		}

		if addr, err := netip.ParseAddrPort(addr.String()); err == nil && !addr.Addr().IsLoopback() {
			c.Next()
			return
		}

		host, _, err := net.SplitHostPort(c.Request.Host)
		if err != nil {
			host = c.Request.Host
		}

		if addr, err := netip.ParseAddr(host); err == nil {
			if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || isLocalIP(addr) {
				c.Next()
				return
			}
		}

		if !allowedHost(host) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware uebernimmt oder vergibt eine Request-ID und
// schreibt sie in die Antwort sowie in die Logs
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()

		slog.Debug("request", "id", id, "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status())
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDHeader)
}
