package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/cardshelf/internal/model"
)

// maxRequestBodySize はリクエストボディの上限（1 MiB）。
const maxRequestBodySize = 1 << 20

// errCodeInvalidRequest はリクエストボディの形式エラーのコード。
const errCodeInvalidRequest = "INVALID_REQUEST"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// エラーメッセージにはJSONのフィールド名を使う
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest はJSONボディをdstに読み込み、validateタグで検証する。
// 失敗した場合はvalidationカテゴリのAPIErrorを返す。
func decodeRequest(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &model.APIError{
			Code:     errCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: model.CategoryValidation,
			Action:   "正しいJSON形式でリクエストしてください。",
			Err:      err,
		}
	}
	return validateStruct(dst)
}

// validateStruct はvalidateタグに従って構造体を検証する。
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return model.NewValidationError(errCodeInvalidRequest, err.Error())
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return model.NewValidationError(errCodeInvalidRequest, strings.Join(msgs, "; "))
}

// formatFieldError は1項目の検証エラーを日本語のメッセージにする。
func formatFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s は必須です", field)
	case "max":
		return fmt.Sprintf("%s は%s以下で指定してください", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s は%s以上で指定してください", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s には次のいずれかを指定してください: %s", field, fe.Param())
	case "uuid":
		return fmt.Sprintf("%s はUUID形式で指定してください", field)
	case "startswith":
		return fmt.Sprintf("%s は %s で始まる必要があります", field, fe.Param())
	default:
		return fmt.Sprintf("%s が不正です", field)
	}
}
