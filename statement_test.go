package dbmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTemplates(t *testing.T) *TemplateRegistry {
	t.Helper()
	reg := NewTemplateRegistry(16)
	require.NoError(t, reg.Add(KindSelect, "EmployeeById", "SELECT {0} FROM [Employee] WHERE {1} = {2};"))
	require.NoError(t, reg.Add(KindSelect, "EmployeeByName", "SELECT * FROM [Employee] WHERE {0} = {1} AND {2} = {3}"))
	require.NoError(t, reg.Add(KindSelect, "Three", "SELECT {0} FROM {1} WHERE {2}"))
	require.NoError(t, reg.Add(KindInsert, "InsertEmployee", "INSERT INTO [Employee] ({0}) VALUES ({1}, {2})"))
	require.NoError(t, reg.Add(KindUpdate, "UpdateEmployee", "UPDATE [Employee] SET {0} WHERE {1} = {2}"))
	require.NoError(t, reg.Add(KindDelete, "DeleteEmployee", "DELETE FROM [Employee] WHERE {0} = {1}"))
	return reg
}

func testBuilder(t *testing.T) *StatementBuilder {
	return NewStatementBuilder(testMappings(), testTemplates(t), DialectFor(SQLServer))
}

func TestFillPlaceholdersEmployeeExample(t *testing.T) {
	b := testBuilder(t)

	stmt, params, err := b.FillPlaceholders(KindSelect, "Employee", "EmployeeById",
		[]string{"LastName", "FirstName"}, []string{"EmployeeId", "#"}, []interface{}{5})
	require.NoError(t, err)
	assert.Equal(t, "SELECT [LastName], [FirstName] FROM [Employee] WHERE [EmployeeId] = @p0;", stmt.Text())
	assert.Equal(t, []BoundParameter{{Name: "@p0", Value: 5}}, params)
	assert.Equal(t, 1, stmt.ParamCount())
}

func TestFillWherePlaceholdersMixedParameters(t *testing.T) {
	b := testBuilder(t)

	stmt, params, err := b.FillWherePlaceholders(KindSelect, "Employee", "EmployeeByName",
		[]string{"LastName", "@Last", "FirstName", "#"}, []interface{}{"Davolio", "Nancy"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM [Employee] WHERE [LastName] = @last AND [FirstName] = @p0", stmt.Text())
	// # 使用自动命名计数（仍为 0），取值使用值计数（已为 1）
	assert.Equal(t, []BoundParameter{
		{Name: "@last", Value: "Davolio"},
		{Name: "@p0", Value: "Nancy"},
	}, params)
}

func TestFillPlaceholdersArgumentCountMismatch(t *testing.T) {
	b := testBuilder(t)

	_, _, err := b.FillWherePlaceholders(KindSelect, "Employee", "Three",
		[]string{"LastName", "%UL%[Employee]"}, nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeTemplateArgumentCountMismatch))
	assert.Contains(t, err.Error(), "expected=3, got=2")
}

func TestFillPlaceholdersMissingValue(t *testing.T) {
	b := testBuilder(t)

	_, _, err := b.FillPlaceholders(KindSelect, "Employee", "EmployeeById",
		[]string{"LastName"}, []string{"EmployeeId", "#"}, nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeParameterValueMissing))
}

func TestFillPlaceholdersRejectsMarkersInFieldList(t *testing.T) {
	b := testBuilder(t)

	for _, field := range []string{"#", "@x", "%UL%1", ""} {
		_, _, err := b.FillPlaceholders(KindSelect, "Employee", "EmployeeById",
			[]string{field}, []string{"EmployeeId", "#"}, []interface{}{1})
		assert.True(t, IsCode(err, ErrCodeMalformedMetaNameSyntax), "field %q", field)
	}
}

func TestFillPlaceholdersMalformedWhereToken(t *testing.T) {
	b := testBuilder(t)

	_, _, err := b.FillWherePlaceholders(KindDelete, "Employee", "DeleteEmployee",
		[]string{"Customer::IdCustomer", "#"}, []interface{}{1})
	assert.True(t, IsCode(err, ErrCodeMalformedMetaNameSyntax))
}

func TestFillPlaceholdersTemplateNotFound(t *testing.T) {
	b := testBuilder(t)

	_, _, err := b.FillWherePlaceholders(KindUpdate, "Employee", "EmployeeById", nil, nil)
	assert.True(t, IsCode(err, ErrCodeTemplateNotFound))
}

func TestFillAssignmentPlaceholders(t *testing.T) {
	b := testBuilder(t)

	stmt, params, err := b.FillAssignmentPlaceholders(KindUpdate, "Employee", "UpdateEmployee",
		[]string{"LastName", "FirstName"}, []string{"EmployeeId", "#"}, []interface{}{"King", "Robert", 7})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE [Employee] SET [LastName] = @p0, [FirstName] = @p1 WHERE [EmployeeId] = @p2", stmt.Text())
	assert.Equal(t, []BoundParameter{
		{Name: "@p0", Value: "King"},
		{Name: "@p1", Value: "Robert"},
		{Name: "@p2", Value: 7},
	}, params)
}

func TestInsertColumnsDefaultsToMapping(t *testing.T) {
	b := testBuilder(t)

	cols, err := b.InsertColumns("Employee", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"EmployeeId", "LastName", "FirstName"}, cols)

	cols, err = b.InsertColumns("Employee", []string{"LastName"})
	require.NoError(t, err)
	assert.Equal(t, []string{"LastName"}, cols)

	_, err = b.InsertColumns("Nobody", nil)
	assert.True(t, IsCode(err, ErrCodeMappingNotFound))
}

func TestBuildWithoutParametersReturnsEmptyList(t *testing.T) {
	b := testBuilder(t)

	stmt, params, err := b.FillWherePlaceholders(KindSelect, "Employee", "Three",
		[]string{"%UL%COUNT(*)", "%UL%[Employee]", "%UL%1 = 1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM [Employee] WHERE 1 = 1", stmt.Text())
	assert.NotNil(t, params)
	assert.Empty(t, params)
}

func TestBuilderIsStatelessAcrossCalls(t *testing.T) {
	b := testBuilder(t)

	for i := 0; i < 3; i++ {
		stmt, params, err := b.FillPlaceholders(KindSelect, "Employee", "EmployeeById",
			[]string{"LastName"}, []string{"EmployeeId", "#"}, []interface{}{i})
		require.NoError(t, err)
		assert.Contains(t, stmt.Text(), "@p0")
		assert.Equal(t, i, params[0].Value)
	}
}
