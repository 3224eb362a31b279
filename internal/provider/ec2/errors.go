// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ec2

import (
	"strings"

	"github.com/aws/smithy-go"
	"github.com/juju/errors"

	"github.com/juju/vpchron/core/controlplane"
)

// throttleCodes are the EC2 error codes that mean "slow down", not
// "give up".
var throttleCodes = map[string]bool{
	"Throttling":                true,
	"ThrottlingException":       true,
	"RequestLimitExceeded":      true,
	"RequestThrottled":          true,
	"RequestThrottledException": true,
	"TooManyRequestsException":  true,
}

// maybeTransient classifies an EC2 error. Throttling and
// eventual-consistency NotFound responses (a resource created moments
// ago not being visible yet) are marked transient for the restore
// engine's backoff; everything else passes through untouched.
func maybeTransient(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	code := apiErr.ErrorCode()
	if throttleCodes[code] || strings.HasSuffix(code, ".NotFound") {
		return errors.WithType(err, controlplane.ErrTransient)
	}
	return err
}
