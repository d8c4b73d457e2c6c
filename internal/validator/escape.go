package validator

import "regexp"

var escapePatterns = []struct {
	re          *regexp.Regexp
	description string
}{
	{regexp.MustCompile(`(?i)\.\./`), "Path traversal using ../"},
	{regexp.MustCompile(`(?i)/etc/passwd`), "Attempt to access /etc/passwd"},
	{regexp.MustCompile(`(?i)/etc/shadow`), "Attempt to access /etc/shadow"},
	{regexp.MustCompile(`(?i)/proc/`), "Attempt to access /proc/"},
	{regexp.MustCompile(`(?i)/sys/`), "Attempt to access /sys/"},
	{regexp.MustCompile(`(?i)/dev/`), "Attempt to access /dev/"},
	{regexp.MustCompile(`(?i)/root/`), "Attempt to access /root/"},
	{regexp.MustCompile(`(?i)/home/`), "Attempt to access /home/"},
	{regexp.MustCompile(`(?i)~/`), "Attempt to access home directory"},
	{regexp.MustCompile(`(?i)os\.path`), "Using os.path module"},
	{regexp.MustCompile(`(?i)\bpathlib\b`), "Using pathlib module"},
	{regexp.MustCompile(`(?i)\bglob\b`), "Using glob module"},
	{regexp.MustCompile(`(?i)\bshutil\b`), "Using shutil module"},
	{regexp.MustCompile(`(?i)open\s*\([^)]*['"]/`), "Opening absolute path"},
	{regexp.MustCompile(`(?i)open\s*\([^)]*['"]\.\./`), "Opening relative path escape"},
}

// CheckFilesystemEscape lists filesystem escape attempts found in code. It
// does not gate execution.
func CheckFilesystemEscape(code string) []string {
	var found []string
	for _, p := range escapePatterns {
		if p.re.MatchString(code) {
			found = append(found, p.description)
		}
	}
	return found
}
