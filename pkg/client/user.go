package client

import (
	"encoding/json"
	"io"

	"github.com/osmedit/osmedit/pkg/core"
)

func decodeUserDetails(r io.Reader) (*UserInfo, error) {
	var doc struct {
		User struct {
			ID             int64  `json:"id"`
			DisplayName    string `json:"display_name"`
			AccountCreated string `json:"account_created"`
			Img            struct {
				Href string `json:"href"`
			} `json:"img"`
		} `json:"user"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, core.NewError(core.ErrMalformedResponse, err.Error())
	}
	return &UserInfo{
		ID:          doc.User.ID,
		DisplayName: doc.User.DisplayName,
		AccountAge:  doc.User.AccountCreated,
		ImageURL:    doc.User.Img.Href,
	}, nil
}
