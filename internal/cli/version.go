// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import "runtime"

// HandleVersion prints build information.
func (a *App) HandleVersion() error {
	data := VersionData{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
	if a.Globals.JSON {
		return a.outputJSON("version", data)
	}
	a.printf("coca %s\n", data.Version)
	if !a.Globals.Quiet {
		a.printf("%s %s\n%s %s\n%s %s\n",
			RenderLabel("Commit"), data.GitCommit,
			RenderLabel("Built"), data.BuildDate,
			RenderLabel("Go"), data.GoVersion)
	}
	return nil
}
