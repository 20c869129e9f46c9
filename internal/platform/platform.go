// Package platform detects the host environment so panedeck can warn about
// setups where its file watching or socket transport degrade.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Platform identifies the detected host environment.
type Platform string

const (
	MacOS   Platform = "macos"
	Linux   Platform = "linux"
	WSL1    Platform = "wsl1"
	WSL2    Platform = "wsl2"
	Windows Platform = "windows"
	Unknown Platform = "unknown"
)

var (
	detectOnce sync.Once
	detected   Platform
)

// Detect returns the current platform. The result is cached.
func Detect() Platform {
	detectOnce.Do(func() {
		detected = detect()
	})
	return detected
}

func detect() Platform {
	switch runtime.GOOS {
	case "darwin":
		return MacOS
	case "windows":
		return Windows
	case "linux":
		return detectLinuxOrWSL()
	default:
		return Unknown
	}
}

func detectLinuxOrWSL() Platform {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return detectWSLVersion()
	}
	procVersion, err := os.ReadFile("/proc/version")
	if err != nil {
		return Linux
	}
	if strings.Contains(string(procVersion), "microsoft") ||
		strings.Contains(string(procVersion), "Microsoft") {
		return detectWSLVersion()
	}
	return Linux
}

// detectWSLVersion tells WSL1 and WSL2 apart. WSL2 kernels carry a
// "microsoft-standard" signature; WSL1 only the capitalized "Microsoft".
func detectWSLVersion() Platform {
	procVersion, err := os.ReadFile("/proc/version")
	if err == nil {
		s := string(procVersion)
		if strings.Contains(s, "microsoft-standard") {
			return WSL2
		}
		if strings.Contains(s, "Microsoft") {
			return WSL1
		}
	}
	if _, err := os.Stat("/run/WSL"); err == nil {
		return WSL2
	}
	if _, err := os.Stat("/dev/vsock"); err == nil {
		return WSL2
	}
	// WSL1 is the more limited of the two; assume it when unsure.
	return WSL1
}

// IsWSL reports whether the process runs under any WSL version.
func IsWSL() bool {
	p := Detect()
	return p == WSL1 || p == WSL2
}

// String returns a human-readable platform name.
func (p Platform) String() string {
	switch p {
	case MacOS:
		return "macOS"
	case Linux:
		return "Linux"
	case WSL1:
		return "WSL1"
	case WSL2:
		return "WSL2"
	case Windows:
		return "Windows"
	default:
		return "Unknown"
	}
}

// CheckFsnotifySupport reports whether the filesystem holding path delivers
// fsnotify events reliably. Network and 9p mounts (the WSL2 Windows drives)
// drop or delay events, which silently breaks config hot reload. Returns a
// warning for the user, or "" when watching should work.
func CheckFsnotifySupport(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return ""
	}

	// Longest mountpoint prefix wins.
	var matchedMount, fsType string
	for _, line := range strings.Split(string(mounts), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if strings.HasPrefix(absPath, fields[1]) && len(fields[1]) > len(matchedMount) {
			matchedMount = fields[1]
			fsType = fields[2]
		}
	}

	switch {
	case fsType == "9p":
		return "config on a 9p mount (WSL2 Windows filesystem): live reload will not work"
	case fsType == "nfs" || fsType == "nfs4":
		return "config on an NFS mount: live reload may miss changes"
	case fsType == "cifs" || fsType == "smbfs":
		return "config on a CIFS/SMB mount: live reload may miss changes"
	case strings.HasPrefix(fsType, "fuse.sshfs"):
		return "config on an SSHFS mount: live reload will not work"
	}
	return ""
}
