package report

import (
	"os"
	"testing"

	"github.com/m3rciful/edubot/core/logger"
)

func TestMain(m *testing.M) {
	if err := logger.InitLogger(nil); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
