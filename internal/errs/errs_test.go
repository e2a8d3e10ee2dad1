package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NotFoundWorkflow("wf1"))

	assert.Equal(t, WorkflowNotFound, KindOf(wrapped))
	assert.Equal(t, ExecutionTimeout, KindOf(fmt.Errorf("poll: %w", context.DeadlineExceeded)))
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestIsMatchesKind(t *testing.T) {
	err := Wrap(UpstreamError, errors.New("503"), "run workflow")

	assert.True(t, errors.Is(err, New(UpstreamError, "")))
	assert.False(t, errors.Is(err, New(ExecutionTimeout, "")))
	assert.Equal(t, "UpstreamError: run workflow: 503", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(RegistrationNotFound))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidArguments))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(ExecutionTimeout))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Internal))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "k1", Mask("k1"))
	assert.Equal(t, "abcdefgh...", Mask("abcdefghijkl"))
}

func TestDetail(t *testing.T) {
	assert.Equal(t, "run workflow: 503", Detail(Wrap(UpstreamError, errors.New("503"), "run workflow")))
	assert.Equal(t, `workflow "wf1" not found`, Detail(fmt.Errorf("resolve: %w", NotFoundWorkflow("wf1"))))
	assert.Equal(t, "plain", Detail(errors.New("plain")))
}
