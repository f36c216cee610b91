// riskgate — risk evaluation gateway for AI agent actions.
package main

import (
	"github.com/riskgate/riskgate/internal/cli"
)

func main() {
	cli.Execute()
}
