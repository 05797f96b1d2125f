package logo

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

// Display prints the banner.
func Display() {
	s, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("L", pterm.FgCyan.ToStyle()),
		putils.LettersFromStringWithStyle("edgerlink", pterm.FgLightMagenta.ToStyle())).Srender()
	pterm.DefaultCenter.Println(s)
	pterm.DefaultCenter.WithCenterEachLineSeparately().
		Println("Ledger client toolkit\nfreeze, sign, submit and follow transactions.")
}
