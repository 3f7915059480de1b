//go:build test

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	goble "github.com/srg/hrscan/internal/device/go-ble"
	"github.com/srg/hrscan/internal/testutils"
)

// Test device addresses for consistent mock device identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "AA:BB:CC:DD:EE:02"
)

// CommandTestSuite extends MockBLEPeripheralSuite with command testing utilities.
// All cmd/hrscan test suites should embed this instead of MockBLEPeripheralSuite.
type CommandTestSuite struct {
	testutils.MockBLEPeripheralSuite

	originalGrace   time.Duration
	originalNoColor bool
}

func (s *CommandTestSuite) SetupSuite() {
	s.MockBLEPeripheralSuite.SetupSuite()

	s.originalGrace = goble.StartGracePeriod
	goble.StartGracePeriod = 20 * time.Millisecond

	s.originalNoColor = color.NoColor
	color.NoColor = true
}

func (s *CommandTestSuite) TearDownSuite() {
	goble.StartGracePeriod = s.originalGrace
	color.NoColor = s.originalNoColor
}

// SetupTest installs the mocked device and gives scan and inspect fresh flags
func (s *CommandTestSuite) SetupTest() {
	s.MockBLEPeripheralSuite.SetupTest()

	scanCmd.ResetFlags()
	addScanFlags(scanCmd)
	inspectCmd.ResetFlags()
	addInspectFlags(inspectCmd)
}

// NewRoot returns a root command with the global flags and both subcommands
func (s *CommandTestSuite) NewRoot() *cobra.Command {
	root := &cobra.Command{Use: "hrscan", SilenceErrors: true}
	root.PersistentFlags().String("log-level", "", "")
	root.PersistentFlags().String("config", "", "")
	root.AddCommand(scanCmd, inspectCmd)
	return root
}

// ExecuteCommand runs the CLI with args and returns stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	root := s.NewRoot()
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// disableColors turns off fatih/color escapes for the duration of a plain test
func disableColors(t *testing.T) {
	t.Helper()
	original := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = original })
}
