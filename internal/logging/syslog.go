// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"io"
	"log/syslog"
)

// SyslogConfig controls optional forwarding of log records to a syslog
// collector.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility syslog.Priority
}

// DefaultSyslogConfig returns syslog forwarding disabled, with the
// defaults NewSyslogWriter would otherwise apply.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "aegis",
		Facility: syslog.LOG_USER,
	}
}

// NewSyslogWriter dials a syslog collector per cfg, applying defaults for
// any zero-valued field. Host is required.
func NewSyslogWriter(cfg SyslogConfig) (io.WriteCloser, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "aegis"
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	w, err := syslog.Dial(cfg.Protocol, addr, cfg.Facility, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog %s: %w", addr, err)
	}
	return w, nil
}
