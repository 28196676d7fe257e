package logging

import "fmt"

// GenerateLogrotateConfig creates a logrotate configuration for a component
func GenerateLogrotateConfig(component string) string {
	return fmt.Sprintf(`# Logrotate configuration for sdd-inspector %s
# Install: sudo cp this file to /etc/logrotate.d/sdd-%s

%s/%s/*.log {
    daily
    rotate 30

    compress
    delaycompress
    missingok
    notifempty

    create 0644 sdd sdd
    sharedscripts

    # workers reopen their log on every job, only the server needs a reload
    postrotate
        systemctl reload sdd-%s 2>/dev/null || true
    endscript
}
`, component, component, BaseDir, component, component)
}

// Components that write under BaseDir
var Components = []string{"server", "worker"}
