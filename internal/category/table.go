package category

import "github.com/openledger/banksync/internal/model"

// translation pairs an internal category name with its type.
type translation struct {
	Name string
	Type model.CategoryType
}

// translationTable maps the aggregator's category taxonomy onto internal
// category names. Entries absent here fall through to fuzzy matching.
var translationTable = map[string]translation{
	"Income":                  {Name: "Income", Type: model.CategoryTypeIncome},
	"Salary":                  {Name: "Salary", Type: model.CategoryTypeIncome},
	"Retirement":              {Name: "Retirement Income", Type: model.CategoryTypeIncome},
	"Government aid":          {Name: "Government Aid", Type: model.CategoryTypeIncome},
	"Non-recurring income":    {Name: "Other Income", Type: model.CategoryTypeIncome},
	"Interest and dividends":  {Name: "Interest & Dividends", Type: model.CategoryTypeIncome},
	"Loans and financing":     {Name: "Loans", Type: model.CategoryTypeExpense},
	"Late payment fees":       {Name: "Fees & Charges", Type: model.CategoryTypeExpense},
	"Bank fees":               {Name: "Fees & Charges", Type: model.CategoryTypeExpense},
	"Investments":             {Name: "Investments", Type: model.CategoryTypeExpense},
	"Groceries":               {Name: "Groceries", Type: model.CategoryTypeExpense},
	"Food and drinks":         {Name: "Food & Drinks", Type: model.CategoryTypeExpense},
	"Restaurants":             {Name: "Food & Drinks", Type: model.CategoryTypeExpense},
	"Shopping":                {Name: "Shopping", Type: model.CategoryTypeExpense},
	"Online shopping":         {Name: "Shopping", Type: model.CategoryTypeExpense},
	"Transportation":          {Name: "Transportation", Type: model.CategoryTypeExpense},
	"Taxi and ride-hailing":   {Name: "Transportation", Type: model.CategoryTypeExpense},
	"Gas stations":            {Name: "Transportation", Type: model.CategoryTypeExpense},
	"Travel":                  {Name: "Travel", Type: model.CategoryTypeExpense},
	"Accommodation":           {Name: "Travel", Type: model.CategoryTypeExpense},
	"Housing":                 {Name: "Housing", Type: model.CategoryTypeExpense},
	"Rent":                    {Name: "Housing", Type: model.CategoryTypeExpense},
	"Utilities":               {Name: "Utilities", Type: model.CategoryTypeExpense},
	"Electricity":             {Name: "Utilities", Type: model.CategoryTypeExpense},
	"Internet":                {Name: "Utilities", Type: model.CategoryTypeExpense},
	"Telecommunications":      {Name: "Utilities", Type: model.CategoryTypeExpense},
	"Healthcare":              {Name: "Healthcare", Type: model.CategoryTypeExpense},
	"Pharmacy":                {Name: "Healthcare", Type: model.CategoryTypeExpense},
	"Education":               {Name: "Education", Type: model.CategoryTypeExpense},
	"Entertainment":           {Name: "Entertainment", Type: model.CategoryTypeExpense},
	"Digital services":        {Name: "Subscriptions", Type: model.CategoryTypeExpense},
	"Gyms and fitness":        {Name: "Health & Fitness", Type: model.CategoryTypeExpense},
	"Insurance":               {Name: "Insurance", Type: model.CategoryTypeExpense},
	"Taxes":                   {Name: "Taxes", Type: model.CategoryTypeExpense},
	"Transfer":                {Name: "Transfers", Type: model.CategoryTypeSystem},
	"Same person transfer":    {Name: "Transfers", Type: model.CategoryTypeSystem},
	"Credit card payment":     {Name: "Transfers", Type: model.CategoryTypeSystem},
}
