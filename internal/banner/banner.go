// Package banner prints the startup banner for the REM server.
package banner

import (
	"fmt"
	"io"
)

const Version = "1.0.0"

// Fprint writes the banner with the version and storage mode to w.
func Fprint(w io.Writer, storageMode string) {
	banner := `
    ____  ________  ___
   / __ \/ ____/  |/  /
  / /_/ / __/ / /|_/ /
 / _, _/ /___/ /  / /
/_/ |_/_____/_/  /_/   v%s - Flood Reporting (%s mode)
    `
	fmt.Fprintf(w, banner, Version, storageMode)
	fmt.Fprintln(w, "\n------------------------------------------------")
}
