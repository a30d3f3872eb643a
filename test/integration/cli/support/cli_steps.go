package support

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/fieldscan/cmd/fieldscan/cmd"
	"github.com/MeKo-Tech/fieldscan/internal/testutil"
)

// RegisterCLISteps registers the steps running the fieldscan command tree
// in-process.
func (testCtx *TestContext) RegisterCLISteps(sc *godog.ScenarioContext) {
	sc.Step(`^a sharp frame image "([^"]*)"$`, testCtx.aSharpFrameImage)
	sc.Step(`^a PDF "([^"]*)" whose text layer reads "([^"]*)"$`, testCtx.aPDFWhoseTextLayerReads)
	sc.Step(`^I run fieldscan with "([^"]*)"$`, testCtx.iRunFieldscanWith)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the error should contain "([^"]*)"$`, testCtx.theErrorShouldContain)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
}

func (testCtx *TestContext) aSharpFrameImage(name string) error {
	path := filepath.Join(testCtx.TempDir, name)
	if err := testutil.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := saveFrame(testutil.Checkerboard(640, 480, 6), path); err != nil {
		return err
	}
	testCtx.FramePath = path
	return nil
}

// aPDFWhoseTextLayerReads writes a text PDF; "|" separates lines.
func (testCtx *TestContext) aPDFWhoseTextLayerReads(name, text string) error {
	path := filepath.Join(testCtx.TempDir, name)
	if err := os.WriteFile(path, testutil.TextPDF(strings.Split(text, "|")...), 0o600); err != nil {
		return err
	}
	testCtx.CreatedFiles = append(testCtx.CreatedFiles, path)
	return nil
}

// iRunFieldscanWith executes the root command. {tmp} in args expands to the
// scenario's temporary directory.
func (testCtx *TestContext) iRunFieldscanWith(args string) error {
	expanded := strings.ReplaceAll(args, "{tmp}", testCtx.TempDir)
	argv := strings.Fields(expanded)

	cmd.ResetFlags()
	cmd.SetEngineFactory(testCtx.Engine.Factory())
	defer cmd.SetEngineFactory(nil)

	root := cmd.GetRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(argv)

	testCtx.LastCommand = "fieldscan " + expanded
	testCtx.LastStartTime = time.Now()
	testCtx.LastError = root.Execute()
	testCtx.LastDuration = time.Since(testCtx.LastStartTime)
	testCtx.LastOutput = out.String()
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("command %q failed: %w\noutput: %s", testCtx.LastCommand, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastError == nil {
		return fmt.Errorf("command %q succeeded unexpectedly\noutput: %s", testCtx.LastCommand, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(text string) error {
	if !strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output does not contain %q\noutput: %s", text, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldContain(text string) error {
	if testCtx.LastError == nil {
		return fmt.Errorf("expected an error containing %q", text)
	}
	if !strings.Contains(testCtx.LastError.Error(), text) {
		return fmt.Errorf("error %q does not contain %q", testCtx.LastError, text)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	path := strings.ReplaceAll(name, "{tmp}", testCtx.TempDir)
	if !filepath.IsAbs(path) {
		path = filepath.Join(testCtx.TempDir, path)
	}
	if !testutil.FileExists(path) {
		return fmt.Errorf("file %s does not exist", path)
	}
	return nil
}
