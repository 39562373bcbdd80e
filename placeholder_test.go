package dbmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMappings() *MappingRegistry {
	return MustMappingRegistry(
		EntityMapping{Key: "Employee", Columns: []ColumnMapping{
			{Property: "EmployeeId", Column: "EmployeeId"},
			{Property: "LastName", Column: "LastName"},
			{Property: "FirstName", Column: "FirstName"},
		}},
		EntityMapping{Key: "Customer", Columns: []ColumnMapping{
			{Property: "IdCustomer", Column: "CustomerId"},
			{Property: "Name", Column: "CompanyName"},
		}},
	)
}

func bracketResolver() *PlaceholderResolver {
	return NewPlaceholderResolver(testMappings(), DialectFor(SQLServer))
}

func TestResolveAutoParameter(t *testing.T) {
	r := bracketResolver()
	c := Counters{}

	res, err := r.Resolve("#", "Employee", &c)
	require.NoError(t, err)
	assert.Equal(t, "@p0", res.Fragment)
	assert.True(t, res.ConsumesValue)
	assert.Equal(t, "@p0", res.ParamName)
	assert.Equal(t, 0, res.ValueIndex)

	res, err = r.Resolve("#", "Employee", &c)
	require.NoError(t, err)
	assert.Equal(t, "@p1", res.Fragment)
	assert.Equal(t, 1, res.ValueIndex)
	assert.Equal(t, Counters{ValueIndex: 2, AutoNameIndex: 2}, c)
}

func TestResolveNamedParameter(t *testing.T) {
	r := bracketResolver()
	c := Counters{ValueIndex: 3, AutoNameIndex: 1}

	res, err := r.Resolve("@Customer Id!", "Customer", &c)
	require.NoError(t, err)
	assert.Equal(t, "@customerid", res.Fragment)
	assert.True(t, res.ConsumesValue)
	assert.Equal(t, 3, res.ValueIndex)
	// 命名参数不推进自动命名计数
	assert.Equal(t, Counters{ValueIndex: 4, AutoNameIndex: 1}, c)
}

func TestResolveNamedParameterKeepsHyphen(t *testing.T) {
	c := Counters{}
	res, err := bracketResolver().Resolve("@Emp-Id", "Employee", &c)
	require.NoError(t, err)
	assert.Equal(t, "@emp-id", res.Fragment)
	assert.Equal(t, 1, c.ValueIndex)
}

func TestResolveNonConsumingTokensKeepCounters(t *testing.T) {
	r := bracketResolver()
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"unprotected literal", "%UL%ORDER BY 1 DESC", "ORDER BY 1 DESC"},
		{"unprotected literal lower case", "%ul%; --", "; --"},
		{"literal", "%Total Sales", "[Total Sales]"},
		{"literal sanitized", "%a];DROP", "[aDROP]"},
		{"qualified", "Customer:IdCustomer", "[Customer].[CustomerId]"},
		{"plain", "LastName", "[LastName]"},
		{"plain case-insensitive", "lastname", "[LastName]"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Counters{ValueIndex: 2, AutoNameIndex: 5}
			res, err := r.Resolve(tt.token, "Employee", &c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Fragment)
			assert.False(t, res.ConsumesValue)
			assert.Equal(t, Counters{ValueIndex: 2, AutoNameIndex: 5}, c)
		})
	}
}

func TestResolveErrors(t *testing.T) {
	r := bracketResolver()
	tests := []struct {
		name  string
		token string
		key   string
		code  ErrorCode
	}{
		{"double separator", "Customer::IdCustomer", "Employee", ErrCodeMalformedMetaNameSyntax},
		{"three parts", "a:b:c", "Employee", ErrCodeMalformedMetaNameSyntax},
		{"unknown entity", "Order:Id", "Employee", ErrCodeMappingNotFound},
		{"unknown property", "Salary", "Employee", ErrCodePropertyAndMappingNotFound},
		{"unknown request key", "LastName", "Nobody", ErrCodeMappingNotFound},
		{"bare parameter marker", "@", "Employee", ErrCodeMalformedMetaNameSyntax},
		{"parameter name sanitized away", "@!;", "Employee", ErrCodeMalformedMetaNameSyntax},
		{"parameter name starting with digit", "@1x", "Employee", ErrCodeMalformedMetaNameSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Counters{}
			_, err := r.Resolve(tt.token, tt.key, &c)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
			assert.Equal(t, Counters{}, c)
		})
	}
}

func TestResolveUsesDialectEnclosers(t *testing.T) {
	r := NewPlaceholderResolver(testMappings(), DialectFor(MySQL))
	c := Counters{}

	res, err := r.Resolve("Customer:Name", "Employee", &c)
	require.NoError(t, err)
	assert.Equal(t, "`Customer`.`CompanyName`", res.Fragment)
}

func TestSanitizers(t *testing.T) {
	assert.Equal(t, "a_b-c1", sanitizeParamName("a_b-c1 ;'"))
	assert.Equal(t, "Total Sales-2", sanitizeLiteral("Total Sales-2]"))
	assert.Equal(t, "ColName", sanitizeIdentifier("Col-Name]"))
	assert.True(t, isMarker("#"))
	assert.True(t, isMarker("@x"))
	assert.True(t, isMarker("%x"))
	assert.False(t, isMarker("Customer:Id"))
}
