// Package domain contains entities without logic, just meta-data
package domain

import "errors"

var ErrUserIDEmpty = errors.New("user id empty")

type UserID string

// Profile is the display metadata resolved for a UserID by the
// external profile collaborator. The matching core never writes it.
type Profile struct {
	UserID UserID `json:"userId" dynamodbav:"userId"`
	Name   string `json:"name" dynamodbav:"name"`
	Avatar string `json:"avatar" dynamodbav:"avatar"`
	Bio    string `json:"bio" dynamodbav:"bio"`
}
