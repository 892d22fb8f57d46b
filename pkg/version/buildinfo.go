package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

func init() {
	buildInfo = moduleBuildInfo
}

// moduleBuildInfo lists the main module and every dependency linked into
// the binary, one per line.
func moduleBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "not built in module mode"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, " mod\t%s@%s\n", info.Main.Path, info.Main.Version)
	for _, dep := range info.Deps {
		fmt.Fprintf(&sb, " dep\t%s@%s", dep.Path, dep.Version)
		if dep.Replace != nil {
			fmt.Fprintf(&sb, "\t=> %s@%s", dep.Replace.Path, dep.Replace.Version)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
