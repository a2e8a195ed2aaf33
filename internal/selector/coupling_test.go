package selector_test

import (
	"github.com/cricamfe/vivid/internal/selector"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(CouplingTestSuite))

type CouplingTestSuite struct{}

func (s *CouplingTestSuite) TestStringer(c *gc.C) {
	c.Assert(selector.Coupled.String(), gc.Equals, "COUPLED")
	c.Assert(selector.Decoupled.String(), gc.Equals, "DECOUPLED")
	c.Assert(selector.CoupledCustom.String(), gc.Equals, "COUPLED_CUSTOM")
}
