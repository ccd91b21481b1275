package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env      string
	Debug    bool
	TestMode bool
	AppName  string
	Build    string

	Server struct {
		Host            string
		Addr            string
		DebugHost       string
		ShutdownTimeout time.Duration
	}

	// Backend is the REST API owning auth, users, bookings etc.
	// The gateway only ever talks to it server-to-server.
	Backend struct {
		URL          string
		Timeout      time.Duration
		RetryBackoff time.Duration
	}

	// Upstream is the UI rendering service all non-API traffic is proxied to.
	Upstream struct {
		URL string
	}

	Session struct {
		CookieName       string
		SecureCookieName string
	}

	RoleCookie struct {
		Name   string
		MaxAge time.Duration
	}

	Access struct {
		ProtectedPrefixes   map[string]string
		AuthPaths           []string
		LoginPath           string
		ResolvePath         string
		SkipPrefixes        []string
		RoleRevalidateAfter time.Duration
	}

	RollbarToken string
}

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("appName", "Tutorhive")
	conf.SetDefault("build", "dev")
	conf.SetDefault("rollbarToken", "")

	conf.SetDefault("server.host", "localhost")
	conf.SetDefault("server.addr", ":3000")
	conf.SetDefault("server.debugHost", "localhost:4000")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)

	conf.SetDefault("backend.url", "http://localhost:5000/api")
	conf.SetDefault("backend.timeout", 5*time.Second)
	conf.SetDefault("backend.retryBackoff", 250*time.Millisecond)

	conf.SetDefault("upstream.url", "http://localhost:3001")

	conf.SetDefault("session.cookieName", "better-auth.session_token")
	conf.SetDefault("session.secureCookieName", "__Secure-better-auth.session_token")

	conf.SetDefault("roleCookie.name", "user-role")
	conf.SetDefault("roleCookie.maxAge", 7*24*time.Hour)

	conf.SetDefault("access.protectedPrefixes", map[string]string{
		"STUDENT": "/dashboard",
		"TUTOR":   "/tutor-dashboard",
		"ADMIN":   "/admin-dashboard",
	})
	conf.SetDefault("access.authPaths", []string{"/login", "/register"})
	conf.SetDefault("access.loginPath", "/login")
	conf.SetDefault("access.resolvePath", "/dashboard-redirect")
	conf.SetDefault("access.skipPrefixes", []string{
		"/api", "/_next/static", "/_next/image", "/favicon.ico", "/public", "/healthz", "/access",
	})
	conf.SetDefault("access.roleRevalidateAfter", time.Hour)

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetDefault("env", env)
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	c := &Config{
		Env:          conf.GetString("env"),
		Debug:        conf.GetBool("debug"),
		TestMode:     conf.GetBool("testMode"),
		AppName:      conf.GetString("appName"),
		Build:        conf.GetString("build"),
		RollbarToken: conf.GetString("rollbarToken"),
	}
	c.Server.Host = conf.GetString("server.host")
	c.Server.Addr = conf.GetString("server.addr")
	c.Server.DebugHost = conf.GetString("server.debugHost")
	c.Server.ShutdownTimeout = conf.GetDuration("server.shutdownTimeout")
	c.Backend.URL = conf.GetString("backend.url")
	c.Backend.Timeout = conf.GetDuration("backend.timeout")
	c.Backend.RetryBackoff = conf.GetDuration("backend.retryBackoff")
	c.Upstream.URL = conf.GetString("upstream.url")
	c.Session.CookieName = conf.GetString("session.cookieName")
	c.Session.SecureCookieName = conf.GetString("session.secureCookieName")
	c.RoleCookie.Name = conf.GetString("roleCookie.name")
	c.RoleCookie.MaxAge = conf.GetDuration("roleCookie.maxAge")
	c.Access.ProtectedPrefixes = conf.GetStringMapString("access.protectedPrefixes")
	c.Access.AuthPaths = conf.GetStringSlice("access.authPaths")
	c.Access.LoginPath = conf.GetString("access.loginPath")
	c.Access.ResolvePath = conf.GetString("access.resolvePath")
	c.Access.SkipPrefixes = conf.GetStringSlice("access.skipPrefixes")
	c.Access.RoleRevalidateAfter = conf.GetDuration("access.roleRevalidateAfter")
	return c
}
