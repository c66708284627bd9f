package main

import (
	"expedientes-backend/cmd/expedientes-cli/commands"
	"expedientes-backend/lib/serviceutil"
	"expedientes-backend/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()
	telemetry.SetupFromEnv(ctx, "expedientes-cli")
	telemetry.InitSlog(true)
	telemetry.InstrumentPerfStats(ctx)
	commands.ExecuteContext(ctx)
}
