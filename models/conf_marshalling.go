// conf marshalling
package models

import (
	"bytes"
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

const (
	nameTag       = "wg"
	singleLineTag = "singleline"
	commentTag    = "comment"
)

type Metadata struct {
	name            string
	arrayKind       bool
	singleArrayLine bool
	structKind      bool
	comment         bool
}

func getMetaData(rsf reflect.StructField) (meta Metadata) {
	rsfT := rsf.Type
	meta.name = rsf.Tag.Get(nameTag)

	if meta.name == "" {
		meta.name = rsf.Name
	}
	meta.comment = rsf.Tag.Get(commentTag) == "true"

	if rsfT.Kind() == reflect.Array || rsfT.Kind() == reflect.Slice {
		meta.arrayKind = true

		if rsfT.Elem().Kind() == reflect.String && rsf.Tag.Get(singleLineTag) == "true" {
			meta.singleArrayLine = true
		}
	} else if rsfT.Kind() == reflect.Struct {
		meta.structKind = true
		if !(rsfT.Implements(reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem())) {
			panic("struct needs to implement TextMarshaler")
		}
	}

	return
}

func writeBuffer(buffer *bytes.Buffer, buf []byte) error {
	if _, err := buffer.Write(buf); err != nil {
		return err
	}
	return nil
}

func writeBufferString(buffer *bytes.Buffer, str string) error {
	if _, err := buffer.WriteString(str); err != nil {
		return err
	}
	return nil
}

func handlePrimitve(buffer *bytes.Buffer, rv reflect.Value, meta Metadata) error {
	switch rv.Kind() {
	case reflect.Pointer:
		// unset optional value
		if rv.IsNil() {
			return nil
		}
		return handlePrimitve(buffer, rv.Elem(), meta)
	case reflect.String:
		if rv.String() == "" {
			return nil
		}
		if meta.comment {
			return writeBufferString(buffer, fmt.Sprintf("# %s: %s\n", meta.name, rv.String()))
		}
		return writeBufferString(buffer, fmt.Sprintf("%s = %s\n", meta.name, rv.String()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return writeBufferString(buffer, fmt.Sprintf("%s = %d\n", meta.name, rv.Int()))
	case reflect.Bool:
		return writeBufferString(buffer, fmt.Sprintf("%s = %s\n", meta.name, strconv.FormatBool(rv.Bool())))
	default:
		panic("unknown primitive type " + rv.Kind().String())
	}
}

func handleStruct(buffer *bytes.Buffer, rv reflect.Value, meta Metadata) error {
	if err := writeBufferString(buffer, fmt.Sprintf("[%s]\n", meta.name)); err != nil {
		return err
	}
	if buf, err := rv.Interface().(encoding.TextMarshaler).MarshalText(); err != nil {
		return err
	} else if err := writeBuffer(buffer, buf); err != nil {
		return err
	}
	return writeBufferString(buffer, "\n")
}

func handleSingleArrayString(buffer *bytes.Buffer, rv reflect.Value, meta Metadata) error {
	if rv.Len() == 0 {
		return nil
	}

	items := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		items = append(items, rv.Index(i).String())
	}
	return writeBufferString(buffer, fmt.Sprintf("%s = %s\n", meta.name, strings.Join(items, ", ")))
}

func handleArray(buffer *bytes.Buffer, rv reflect.Value, meta Metadata) error {
	if meta.singleArrayLine {
		return handleSingleArrayString(buffer, rv, meta)
	}

	arrElemT := rv.Type().Elem()
	if arrElemT.Kind() != reflect.Struct {
		panic("lists of " + arrElemT.Kind().String() + " need the singleline tag")
	}
	if !arrElemT.Implements(reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()) {
		panic("struct needs to implement TextMarshaler")
	}

	for i := 0; i < rv.Len(); i++ {
		if err := handleStruct(buffer, rv.Index(i), meta); err != nil {
			return err
		}
	}
	return nil
}

func confMarshallStruct(v any) (text []byte, err error) {
	rv := reflect.ValueOf(v)
	rvT := rv.Type()

	if rv.Kind() != reflect.Struct {
		panic("only called on struct")
	}

	var buffer bytes.Buffer
	for i := 0; i < rv.NumField(); i++ {
		val := rv.Field(i)
		meta := getMetaData(rvT.Field(i))
		if meta.arrayKind {
			err = handleArray(&buffer, val, meta)
		} else if meta.structKind {
			err = handleStruct(&buffer, val, meta)
		} else {
			err = handlePrimitve(&buffer, val, meta)
		}
		if err != nil {
			return nil, err
		}
	}
	return buffer.Bytes(), nil
}

// --- TextMarshaler implemented by types ---
func (v Interface) MarshalText() (text []byte, err error) {
	return confMarshallStruct(v)
}

func (v Peer) MarshalText() (text []byte, err error) {
	return confMarshallStruct(v)
}

func (v Config) MarshalText() (text []byte, err error) {
	return confMarshallStruct(v)
}
