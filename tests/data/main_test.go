package data

import (
	"os"
	"testing"

	tcommon "github.com/bobmcallan/revisor/tests/common"
)

func TestMain(m *testing.M) {
	code := m.Run()
	tcommon.CleanupPostgres()
	os.Exit(code)
}
