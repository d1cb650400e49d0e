package cmd

import (
	"errors"
	"os/exec"
	"runtime"
)

func (rt *runtimeState) browser() func(string) error {
	if rt.openBrowser != nil {
		return rt.openBrowser
	}
	return openBrowser
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if cmd == nil {
		return errors.New("no browser command available")
	}
	return cmd.Start()
}
