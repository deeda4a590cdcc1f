package bgc_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestBGC(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Background Collector Suite")
}
