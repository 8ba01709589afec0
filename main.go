// The main package for the bid-monitor executable.
package main

import (
	// schedule.timezone must resolve on images without a zoneinfo database.
	_ "time/tzdata"

	"github.com/JakeFAU/bid-monitor/cmd"
)

func main() {
	cmd.Execute()
}
