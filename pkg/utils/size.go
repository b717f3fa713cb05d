package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Common size constants for convenience
const (
	Byte     int64 = 1
	KiloByte int64 = 1024
	MegaByte int64 = 1024 * 1024
	GigaByte int64 = 1024 * 1024 * 1024
	TeraByte int64 = 1024 * 1024 * 1024 * 1024
)

var sizePattern = regexp.MustCompile(`^([\d.]+)\s*([A-Za-z]+)$`)

// ParseDataSize parses sizes such as "500KiB", "1.5MB" or "4096". Decimal
// suffixes (KB, MB, GB, TB) are 1000-based; binary suffixes (KiB, MiB, GiB,
// TiB and the single letters K, M, G, T) are 1024-based.
func ParseDataSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(sizeStr)
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	if val, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
		if val < 0 {
			return 0, fmt.Errorf("negative size: %s", sizeStr)
		}
		return val, nil
	}

	matches := sizePattern.FindStringSubmatch(sizeStr)
	if len(matches) != 3 {
		return 0, fmt.Errorf("invalid size format: %s (expected format like '500KiB', '4096', '1.5MB')", sizeStr)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %s", matches[1])
	}

	multiplier := unitMultiplier(strings.ToUpper(matches[2]))
	if multiplier == 0 {
		return 0, fmt.Errorf("unknown unit: %s (supported: B, KB, MB, GB, TB, KiB, MiB, GiB, TiB)", matches[2])
	}

	bytes := value * float64(multiplier)
	if bytes > float64(1<<62) {
		return 0, fmt.Errorf("size overflow: %s", sizeStr)
	}
	return int64(bytes), nil
}

func unitMultiplier(unit string) int64 {
	switch unit {
	case "B", "BYTE", "BYTES":
		return Byte
	case "KB":
		return 1000
	case "MB":
		return 1000 * 1000
	case "GB":
		return 1000 * 1000 * 1000
	case "TB":
		return 1000 * 1000 * 1000 * 1000
	case "KIB", "K":
		return KiloByte
	case "MIB", "M":
		return MegaByte
	case "GIB", "G":
		return GigaByte
	case "TIB", "T":
		return TeraByte
	default:
		return 0
	}
}

// FormatDataSize renders a byte count for reports: whole bytes below 1 KB,
// otherwise two decimals in the largest 1024-based unit, e.g. "1.20 MB".
func FormatDataSize(bytes int64) string {
	switch {
	case bytes < 0:
		return "invalid"
	case bytes < KiloByte:
		return fmt.Sprintf("%d bytes", bytes)
	case bytes < MegaByte:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KiloByte))
	case bytes < GigaByte:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MegaByte))
	case bytes < TeraByte:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GigaByte))
	default:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TeraByte))
	}
}
