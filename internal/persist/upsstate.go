package persist

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sweeney/ups-guardian/internal/nut"
)

// WriteUPSState atomically writes sample as newline-delimited KEY=VALUE
// records to path, per the contract in spec §6. Missing optional fields are
// written as empty values rather than omitted, so external tooling can rely
// on a fixed key set.
func WriteUPSState(path string, sample nut.Sample, epoch int64) error {
	var b strings.Builder
	fmt.Fprintf(&b, "STATUS=%s\n", strings.Join(sample.StatusTokens, " "))
	fmt.Fprintf(&b, "BATTERY=%s\n", optFloatString(sample.ChargePct))
	fmt.Fprintf(&b, "RUNTIME=%s\n", optIntString(sample.RuntimeS))
	fmt.Fprintf(&b, "LOAD=%s\n", optFloatString(sample.LoadPct))
	fmt.Fprintf(&b, "INPUT_VOLTAGE=%s\n", optFloatString(sample.InputVoltageV))
	fmt.Fprintf(&b, "OUTPUT_VOLTAGE=%s\n", optFloatString(sample.OutputVoltageV))
	fmt.Fprintf(&b, "TIMESTAMP=%d\n", epoch)

	return WriteAtomic(path, []byte(b.String()))
}

func optFloatString(v nut.OptFloat) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Value, 'f', -1, 64)
}

func optIntString(v nut.OptInt) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Value, 10)
}
