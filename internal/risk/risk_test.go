package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    Tier
	}{
		// Critical: destructive and service-control verbs.
		{"rm", "rm -rf /var/log/old", Critical},
		{"sudo rm", "sudo rm /etc/nginx/nginx.conf", Critical},
		{"rm after pipe", "find /tmp -name '*.bak' | xargs rm", Critical},
		{"dd", "dd if=/dev/zero of=/dev/sda", Critical},
		{"systemctl stop", "systemctl stop nginx", Critical},
		{"systemctl restart", "systemctl restart postgresql", Critical},
		{"service restart", "service nginx restart", Critical},
		{"reboot", "reboot", Critical},
		{"shutdown", "shutdown -h now", Critical},
		{"killall", "killall -9 java", Critical},
		{"drop table", "psql -c 'DROP TABLE users'", Critical},
		{"apt purge", "apt-get purge nginx", Critical},
		{"userdel", "userdel -r olduser", Critical},

		// Moderate: config and permission mutation.
		{"chmod", "chmod 600 /etc/ssl/private/key.pem", Moderate},
		{"chown", "chown www-data:www-data /var/www", Moderate},
		{"systemctl start", "systemctl start nginx", Moderate},
		{"systemctl reload", "systemctl reload nginx", Moderate},
		{"apt install", "apt install htop", Moderate},
		{"sed -i", "sed -i 's/old/new/' /etc/hosts", Moderate},
		{"useradd", "useradd deploy", Moderate},
		{"mkdir", "mkdir -p /opt/app/releases", Moderate},
		{"git pull", "git pull origin main", Moderate},
		{"docker restart", "docker restart api", Moderate},

		// Low: recognized read-only verbs at the start of the command.
		{"ls", "ls -la /var/log", Low},
		{"cat", "cat /etc/os-release", Low},
		{"tail", "tail -100 /var/log/syslog", Low},
		{"grep", "grep -c ERROR /var/log/app.log", Low},
		{"df", "df -h", Low},
		{"ps", "ps aux", Low},
		{"uptime", "uptime", Low},
		{"systemctl status", "systemctl status nginx", Low},
		{"journalctl", "journalctl -u nginx --since today", Low},
		{"git status", "git status", Low},
		{"docker ps", "docker ps -a", Low},

		// Severe rule wins over a later read-only match.
		{"stop then cat", "systemctl stop nginx && cat /var/log/nginx/error.log", Critical},
		{"cat redirect into etc", "cat fix.conf > /etc/app/app.conf", Moderate},

		// Unmatched defaults to Moderate, never Low.
		{"unknown binary", "/opt/vendor/bin/frobnicate --all", Moderate},
		{"empty", "", Moderate},
		{"whitespace", "   ", Moderate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.command), "command: %q", tt.command)
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	commands := []string{
		"rm -rf /tmp/x",
		"systemctl status nginx",
		"chmod 755 script.sh",
		"/opt/unknown/tool run",
	}

	for _, cmd := range commands {
		first := Classify(cmd)
		for i := 0; i < 100; i++ {
			assert.Equal(t, first, Classify(cmd), "classification drifted for %q", cmd)
		}
	}
}

func TestClassifyWithReason(t *testing.T) {
	tier, reason := ClassifyWithReason("rm -rf /data")
	assert.Equal(t, Critical, tier)
	assert.Equal(t, "file removal", reason)

	tier, reason = ClassifyWithReason("frobnicate")
	assert.Equal(t, Moderate, tier)
	assert.Equal(t, "unclassified", reason)
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "LOW", Low.String())
	assert.Equal(t, "MODERATE", Moderate.String())
	assert.Equal(t, "CRITICAL", Critical.String())
}

func TestParseTier(t *testing.T) {
	tier, ok := ParseTier("critical")
	assert.True(t, ok)
	assert.Equal(t, Critical, tier)

	tier, ok = ParseTier(" LOW ")
	assert.True(t, ok)
	assert.Equal(t, Low, tier)

	_, ok = ParseTier("extreme")
	assert.False(t, ok)
}
